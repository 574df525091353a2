package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/dispatch"
	"github.com/go-go-golems/prattle/pkg/inference/ollama"
	"github.com/go-go-golems/prattle/pkg/session"
	"github.com/go-go-golems/prattle/pkg/store"
	"github.com/go-go-golems/prattle/pkg/tokens"
)

func newChatCommand() *cobra.Command {
	var chatID int64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(filepath.Join(defaultConfigDir(), "memories.db"))
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			client := ollama.New(appSettings.ServerURL, appSettings.ModelName,
				ollama.WithTimeout(appSettings.RequestTimeout))

			// Completions are delivered on this executor; the loop below
			// drains it, so callbacks never race the prompt.
			executor := dispatch.NewChanExecutor(1)
			dispatcher := dispatch.NewDispatcher(client, executor)

			policy := tokens.NewPolicy(
				tokens.NewTiktokenCounter(appSettings.ModelName),
				appSettings.Budget(),
			)

			manager, err := session.NewManager(session.Config{
				SystemPrompt: appSettings.EffectiveSystemPrompt(),
				ModelName:    appSettings.ModelName,
				Options:      appSettings.Options(),
				Policy:       policy,
				Dispatcher:   dispatcher,
				Store:        db,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			if chatID != 0 {
				if err := manager.LoadChat(ctx, chatID); err != nil {
					return err
				}
			}

			if err := client.Preload(ctx); err != nil {
				log.Warn().Err(err).Msg("model preload failed")
			}

			fmt.Printf("Chatting with %s. /reset for a new chat, /quit to leave.\n", appSettings.ModelName)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())

				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					if err := manager.Reset(); err != nil {
						fmt.Println(err)
					}
					continue
				case "/models":
					for _, name := range client.ListModels(ctx) {
						fmt.Println(name)
					}
					continue
				}

				err := manager.Send(ctx, line, func(res session.Result) {
					if res.Err != nil {
						fmt.Printf("error: %v\n", res.Err)
						return
					}
					fmt.Println(res.Reply.Content)
					if res.SaveErr != nil {
						fmt.Printf("warning: %v\n", res.SaveErr)
					}
				})
				if err != nil {
					fmt.Println(err)
					continue
				}

				// Single-flight: block until the in-flight completion lands.
				executor.DrainOne()
			}
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat", 0, "resume a saved chat by id")
	return cmd
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models the server advertises",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ollama.New(appSettings.ServerURL, appSettings.ModelName)
			for _, name := range client.ListModels(cmd.Context()) {
				fmt.Println(name)
			}
			return nil
		},
	}
}
