package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/store"
)

func openStore() (*store.SQLiteStore, error) {
	return store.Open(filepath.Join(defaultConfigDir(), "memories.db"))
}

func withStore(fn func(ctx context.Context, db *store.SQLiteStore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()
		return fn(cmd.Context(), db)
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func newChatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage saved chats",
	}

	var folderID int64
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List chats and folders at one level of the hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			var folder *int64
			if cmd.Flags().Changed("folder") {
				folder = &folderID
			}

			contents, err := db.ListFolderContents(cmd.Context(), folder)
			if err != nil {
				return err
			}
			for _, f := range contents.Folders {
				fmt.Printf("%6d/  %s\n", f.ID, f.Name)
			}
			for _, c := range contents.Chats {
				fmt.Printf("%6d   %s  (%s, %d messages)\n",
					c.ID, c.Title, c.ModelName, len(c.Messages))
			}
			return nil
		},
	}
	listCmd.Flags().Int64Var(&folderID, "folder", 0, "folder id to list (omit for root)")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.DeleteChat(ctx, id)
			})(cmd, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "mv <id> [folder-id]",
		Short: "Move a chat into a folder, or to root when no folder is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var folder *int64
			if len(args) == 2 {
				fid, err := parseID(args[1])
				if err != nil {
					return err
				}
				folder = &fid
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.MoveChat(ctx, id, folder)
			})(cmd, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.RenameChat(ctx, id, args[1])
			})(cmd, args)
		},
	})

	return cmd
}

func newFoldersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage folders",
	}

	var parentID int64
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			var parent *int64
			if cmd.Flags().Changed("parent") {
				parent = &parentID
			}
			id, err := db.CreateFolder(cmd.Context(), args[0], parent)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	addCmd.Flags().Int64Var(&parentID, "parent", 0, "parent folder id")
	cmd.AddCommand(addCmd)

	var cascade bool
	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a folder, promoting its chats to root unless --cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mode := store.DeletePromote
			if cascade {
				mode = store.DeleteCascade
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.DeleteFolder(ctx, id, mode)
			})(cmd, args)
		},
	}
	rmCmd.Flags().BoolVar(&cascade, "cascade", false, "delete the folder's chats as well")
	cmd.AddCommand(rmCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.RenameFolder(ctx, id, args[1])
			})(cmd, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "mv <id> [parent-id]",
		Short: "Move a folder under a new parent, or to root when no parent is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var parent *int64
			if len(args) == 2 {
				pid, err := parseID(args[1])
				if err != nil {
					return err
				}
				parent = &pid
			}
			return withStore(func(ctx context.Context, db *store.SQLiteStore) error {
				return db.MoveFolder(ctx, id, parent)
			})(cmd, args)
		},
	})

	return cmd
}
