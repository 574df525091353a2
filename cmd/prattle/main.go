package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/prattle/pkg/settings"
)

var (
	configPath string
	logLevel   string
	serverURL  string
	modelName  string

	appSettings *settings.Settings
)

var rootCmd = &cobra.Command{
	Use:   "prattle",
	Short: "Chat with a local model server, with folders and history",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

		appSettings, err = settings.Load(configPath)
		if err != nil {
			return err
		}
		if serverURL != "" {
			appSettings.ServerURL = serverURL
		}
		if modelName != "" {
			appSettings.ModelName = modelName
		}
		return nil
	},
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".prattle")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		filepath.Join(defaultConfigDir(), "config.yaml"), "settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "model server URL")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "model name")

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newChatsCommand())
	rootCmd.AddCommand(newFoldersCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
