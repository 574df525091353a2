// Package store persists the folder/chat hierarchy in a local sqlite
// database. It is the single source of truth for what survives a restart.
package store

import (
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// ErrNotFound is returned when an operation references a chat or folder id
// that does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidParent is returned when a folder reference does not point at an
// existing folder, or when a move would make a folder its own ancestor.
var ErrInvalidParent = errors.New("invalid parent folder")

// Folder is a named grouping node. ParentID is nil for root-level folders.
// The parent graph is acyclic: no folder may become its own ancestor.
type Folder struct {
	ID        int64
	Name      string
	ParentID  *int64
	CreatedAt time.Time
}

// Chat is the persisted record of a conversation. The id is stable once
// assigned. Messages round-trip losslessly through their JSON form.
type Chat struct {
	ID          int64
	Title       string
	FolderID    *int64
	CreatedAt   time.Time
	LastUpdated time.Time
	ModelName   string
	Messages    conversation.Conversation
}

// FolderContents is one level of the hierarchy: folders ordered by name,
// chats ordered by creation time descending.
type FolderContents struct {
	Folders []*Folder
	Chats   []*Chat
}

// DeleteMode selects what happens to a folder's chats on deletion.
type DeleteMode int

const (
	// DeleteCascade removes the folder's own chats along with the folder.
	DeleteCascade DeleteMode = iota
	// DeletePromote moves the folder's own chats to root before removal.
	DeletePromote
)

func (m DeleteMode) String() string {
	if m == DeleteCascade {
		return "cascade"
	}
	return "promote"
}
