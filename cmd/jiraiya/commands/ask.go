package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
)

// NewAskCmd constructs the `jiraiya ask` command, which answers a single
// natural language question from the indexed issues.
func NewAskCmd() *cobra.Command {
	var topK int
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed JIRA project",
		Long: `Ask a natural language question about the indexed JIRA project.

The most similar issues are retrieved from the local index and handed to the
LLM as context, so answers cite real issue keys instead of guessing.

Examples:
  jiraiya ask "What is Kix working on?"
  jiraiya ask "Which open bugs mention the login flow?"
  jiraiya ask --top-k 10 "Summarise everything related to billing"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			p, cleanup, err := newAskPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			answer, docs, err := p.Ask(ctx, args[0], topK, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), answer)

			if showSources && len(docs) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "\nSources:")
				for _, d := range docs {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", d.ID, d.Source)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of issues to retrieve as context (default: JIRAIYA_TOP_K or 5)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the source issues below the answer")

	return cmd
}
