package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// Schema evolution is additive-only so a database written by a newer minor
// version still opens under an older one.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS folders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    parent_id INTEGER NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    folder_id INTEGER NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    model_name TEXT NOT NULL,
    messages TEXT NOT NULL
);
`

// SQLiteStore persists folders and chats in a sqlite database. Every
// mutation runs in its own transaction, so interleaved operations from
// concurrent sessions never leave a partially applied rename, move or
// delete observable.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("chat store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schemaV1); err != nil {
		return errors.Wrap(err, "applying schema")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateFolder inserts a new folder and returns its id. ErrInvalidParent
// when parentID does not reference an existing folder.
func (s *SQLiteStore) CreateFolder(ctx context.Context, name string, parentID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkFolder(ctx, tx, parentID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO folders (name, parent_id, created_at) VALUES (?, ?, ?)",
			name, parentID, time.Now().UTC())
		if err != nil {
			return errors.Wrap(err, "inserting folder")
		}
		id, err = res.LastInsertId()
		return errors.Wrap(err, "reading folder id")
	})
	return id, err
}

// SaveChat inserts a new chat and returns its id. It never mutates an
// existing chat.
func (s *SQLiteStore) SaveChat(
	ctx context.Context,
	title string,
	msgs conversation.Conversation,
	modelName string,
	folderID *int64,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := msgs.ToJSON()
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkFolder(ctx, tx, folderID); err != nil {
			return err
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chats (title, folder_id, model_name, messages, created_at, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			title, folderID, modelName, string(payload), now, now)
		if err != nil {
			return errors.Wrap(err, "inserting chat")
		}
		id, err = res.LastInsertId()
		return errors.Wrap(err, "reading chat id")
	})
	return id, err
}

// UpdateChat replaces a chat's messages and bumps last_updated.
func (s *SQLiteStore) UpdateChat(ctx context.Context, id int64, msgs conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := msgs.ToJSON()
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE chats SET messages = ?, last_updated = ? WHERE id = ?",
			string(payload), time.Now().UTC(), id)
		if err != nil {
			return errors.Wrap(err, "updating chat")
		}
		return requireRow(res, "chat", id)
	})
}

func (s *SQLiteStore) GetChat(ctx context.Context, id int64) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, folder_id, created_at, last_updated, model_name, messages
		 FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

func (s *SQLiteStore) RenameChat(ctx context.Context, id int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE chats SET title = ? WHERE id = ?", title, id)
		if err != nil {
			return errors.Wrap(err, "renaming chat")
		}
		return requireRow(res, "chat", id)
	})
}

func (s *SQLiteStore) RenameFolder(ctx context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE folders SET name = ? WHERE id = ?", name, id)
		if err != nil {
			return errors.Wrap(err, "renaming folder")
		}
		return requireRow(res, "folder", id)
	})
}

// MoveChat reparents a chat; nil folderID moves it to root.
func (s *SQLiteStore) MoveChat(ctx context.Context, id int64, folderID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkFolder(ctx, tx, folderID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE chats SET folder_id = ?, last_updated = ? WHERE id = ?",
			folderID, time.Now().UTC(), id)
		if err != nil {
			return errors.Wrap(err, "moving chat")
		}
		return requireRow(res, "chat", id)
	})
}

// MoveFolder reparents a folder. ErrInvalidParent when the new parent is the
// folder itself or one of its descendants, which would make the folder its
// own ancestor.
func (s *SQLiteStore) MoveFolder(ctx context.Context, id int64, parentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkFolder(ctx, tx, parentID); err != nil {
			return err
		}

		// Walk up from the prospective parent; hitting id means a cycle.
		cursor := parentID
		for cursor != nil {
			if *cursor == id {
				return errors.Wrapf(ErrInvalidParent, "folder %d cannot become its own ancestor", id)
			}
			var next sql.NullInt64
			err := tx.QueryRowContext(ctx,
				"SELECT parent_id FROM folders WHERE id = ?", *cursor).Scan(&next)
			if err == sql.ErrNoRows {
				break
			}
			if err != nil {
				return errors.Wrap(err, "walking folder ancestry")
			}
			if !next.Valid {
				break
			}
			cursor = &next.Int64
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE folders SET parent_id = ? WHERE id = ?", parentID, id)
		if err != nil {
			return errors.Wrap(err, "moving folder")
		}
		return requireRow(res, "folder", id)
	})
}

// DeleteChat removes a chat. Deleting an unknown id is a no-op; the outcome
// the caller asked for already holds.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
		return errors.Wrap(err, "deleting chat")
	})
}

// DeleteFolder removes one folder. Deletion is flat: the folder's own chats
// are deleted (DeleteCascade) or moved to root (DeletePromote), and its
// immediate subfolders are reparented to the deleted folder's parent in both
// modes, so no chat or folder is ever left pointing at a missing folder.
// Callers wanting a deep cascade recurse explicitly.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, id int64, mode DeleteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var parent sql.NullInt64
		err := tx.QueryRowContext(ctx,
			"SELECT parent_id FROM folders WHERE id = ?", id).Scan(&parent)
		if err == sql.ErrNoRows {
			return errors.Wrapf(ErrNotFound, "folder %d", id)
		}
		if err != nil {
			return errors.Wrap(err, "loading folder")
		}

		switch mode {
		case DeleteCascade:
			if _, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE folder_id = ?", id); err != nil {
				return errors.Wrap(err, "deleting folder chats")
			}
		case DeletePromote:
			if _, err := tx.ExecContext(ctx,
				"UPDATE chats SET folder_id = NULL WHERE folder_id = ?", id); err != nil {
				return errors.Wrap(err, "promoting folder chats")
			}
		}

		var newParent interface{}
		if parent.Valid {
			newParent = parent.Int64
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE folders SET parent_id = ? WHERE parent_id = ?", newParent, id); err != nil {
			return errors.Wrap(err, "reparenting subfolders")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id); err != nil {
			return errors.Wrap(err, "deleting folder")
		}

		log.Debug().Int64("folder_id", id).Stringer("mode", mode).Msg("folder deleted")
		return nil
	})
}

// ListFolderContents returns one level of the hierarchy. A nil folderID
// lists the root level.
func (s *SQLiteStore) ListFolderContents(ctx context.Context, folderID *int64) (*FolderContents, error) {
	contents := &FolderContents{}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, parent_id, created_at FROM folders WHERE parent_id IS ? ORDER BY name",
		folderID)
	if err != nil {
		return nil, errors.Wrap(err, "listing folders")
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		f := &Folder{}
		var parent sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &parent, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning folder")
		}
		if parent.Valid {
			f.ParentID = &parent.Int64
		}
		contents.Folders = append(contents.Folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "listing folders")
	}

	chatRows, err := s.db.QueryContext(ctx,
		`SELECT id, title, folder_id, created_at, last_updated, model_name, messages
		 FROM chats WHERE folder_id IS ? ORDER BY created_at DESC, id DESC`,
		folderID)
	if err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}
	defer func() {
		_ = chatRows.Close()
	}()
	for chatRows.Next() {
		chat, err := scanChat(chatRows)
		if err != nil {
			return nil, err
		}
		contents.Chats = append(contents.Chats, chat)
	}
	if err := chatRows.Err(); err != nil {
		return nil, errors.Wrap(err, "listing chats")
	}

	return contents, nil
}

// ListRecentChats returns the newest root-level chats, most recent first.
func (s *SQLiteStore) ListRecentChats(ctx context.Context, limit int) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, folder_id, created_at, last_updated, model_name, messages
		 FROM chats WHERE folder_id IS NULL ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing recent chats")
	}
	defer func() {
		_ = rows.Close()
	}()

	var chats []*Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, errors.Wrap(rows.Err(), "listing recent chats")
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// checkFolder validates that a folder reference points at an existing row.
// A nil reference means root and is always valid.
func (s *SQLiteStore) checkFolder(ctx context.Context, tx *sql.Tx, folderID *int64) error {
	if folderID == nil {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM folders WHERE id = ?", *folderID).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrInvalidParent, "folder %d", *folderID)
	}
	return errors.Wrap(err, "checking folder")
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %d", kind, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChat works for both sql.Row and sql.Rows.
func scanChat(row rowScanner) (*Chat, error) {
	chat := &Chat{}
	var folderID sql.NullInt64
	var payload string
	err := row.Scan(&chat.ID, &chat.Title, &folderID, &chat.CreatedAt,
		&chat.LastUpdated, &chat.ModelName, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning chat")
	}
	if folderID.Valid {
		chat.FolderID = &folderID.Int64
	}
	chat.Messages, err = conversation.FromJSON([]byte(payload))
	if err != nil {
		return nil, err
	}
	return chat, nil
}
