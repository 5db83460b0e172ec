package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KixPanganiban/jiraiya-go/internal/embedder"
	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/pipeline"
)

// NewInitCmd constructs the `jiraiya init` command, which fetches every issue
// from a JIRA project, embeds them, and builds the local vector index.
func NewInitCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "init [project]",
		Short: "Fetch a JIRA project's issues and build the vector index",
		Long: `Pull every issue from a JIRA project, embed each one, and persist a local
vector index for later questions.

Re-running init rebuilds the index from scratch. The previous index stays
intact until the new one is complete, so a failed run never leaves you
without a working index.

Required environment variables:
  JIRA_DOMAIN      JIRA Cloud domain (e.g. example.atlassian.net)
  JIRA_EMAIL       Account email for basic auth
  JIRA_API_TOKEN   API token for basic auth

Examples:
  jiraiya init ALPHA
  JIRA_PROJECT=ALPHA jiraiya init
  VECTOR_STORE=qdrant jiraiya init ALPHA`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if len(args) > 0 {
				project = args[0]
			}
			projectKey, err := resolveProject(project)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			client, err := newJiraClient(log)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("init: failed to initialise embedder: %w", err)
			}
			embedder.WarnOnSuspectModel(log)
			log.Info("embedder initialised",
				slog.String("backend", embeddingBackend()),
				slog.String("model", embedder.EmbeddingModel()),
			)

			writer, closeWriter, err := newIndexWriter(ctx, log)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer closeWriter()

			p := pipeline.New(&pipeline.Config{
				Source:   client,
				Embedder: emb,
				Domain:   os.Getenv("JIRA_DOMAIN"),
			})

			result, err := p.Init(ctx, projectKey, writer, func(msg string) {
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			})
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Indexed %d of %d issues from %s (%d skipped).\n",
				result.Indexed, result.Fetched, projectKey, result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "P", "", "JIRA project key (default: JIRA_PROJECT env var)")

	return cmd
}
