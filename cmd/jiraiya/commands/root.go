// Package commands defines all Cobra CLI commands for the jiraiya binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/KixPanganiban/jiraiya-go/internal/audit"
	"github.com/KixPanganiban/jiraiya-go/internal/config"
	"github.com/KixPanganiban/jiraiya-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jiraiya",
		Short: "Jiraiya — ask questions about your JIRA project, answered from its issues",
		Long: `Jiraiya is a local-first assistant that knows your JIRA project.

Run 'jiraiya init' once to pull every issue from a project, embed it, and
build a local vector index. Then 'jiraiya ask' answers natural language
questions ("What is Kix working on?", "Which bugs mention the login flow?")
grounded in the indexed issues, with links back to JIRA.

Credentials and the model provider are read from environment variables or a
YAML config file (~/.jiraiya/config.yaml). Env vars always win.
See 'jiraiya --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.jiraiya/config.yaml)")

	root.AddCommand(
		NewInitCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
