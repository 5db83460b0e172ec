package commands

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/store"
)

// historyWindow is the number of prior messages replayed into each turn.
const historyWindow = 20

// NewChatCmd constructs the `jiraiya chat` command, an interactive REPL that
// keeps conversation history across turns (and across sessions, via SQLite).
func NewChatCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session about the indexed project",
		Long: `Start an interactive chat session grounded in the indexed JIRA issues.

Each turn retrieves fresh context for the new question, and prior turns are
replayed so follow-ups like "who is assigned to that one?" resolve naturally.
History persists across sessions in a local SQLite database, keyed by project.

In-session commands:
  /clear   forget this project's conversation history
  /exit    leave the chat (Ctrl-D works too)

Set JIRAIYA_HISTORY_DB=disabled to keep history in memory only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			projectKey, err := resolveProject(project)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			p, cleanup, err := newAskPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer cleanup()

			history := openHistory(log)
			if history != nil {
				defer func() { _ = history.Close() }()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chatting about %s. /clear resets history, /exit quits.\n", projectKey)

			// In-memory fallback when the SQLite store is disabled.
			var session []*schema.Message

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				question := strings.TrimSpace(scanner.Text())

				switch question {
				case "":
					continue
				case "/exit", "/quit", "exit", "quit":
					return nil
				case "/clear":
					session = nil
					if history != nil {
						if err := history.Clear(ctx, projectKey); err != nil {
							log.Warn("history: clear failed", slog.Any("error", err))
						}
					}
					fmt.Fprintln(out, "History cleared.")
					continue
				}

				turns := session
				if history != nil {
					recent, err := history.Recent(ctx, projectKey, historyWindow)
					if err != nil {
						log.Warn("history: read failed", slog.Any("error", err))
					} else {
						turns = toSchemaMessages(recent)
					}
				}

				answer, _, err := p.Ask(ctx, question, 0, turns)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					continue
				}

				fmt.Fprintln(out, answer)
				fmt.Fprintln(out)

				session = append(session,
					schema.UserMessage(question),
					schema.AssistantMessage(answer, nil),
				)
				if len(session) > historyWindow {
					session = session[len(session)-historyWindow:]
				}
				if history != nil {
					if err := history.Append(ctx, projectKey, store.RoleUser, question); err != nil {
						log.Warn("history: append failed", slog.Any("error", err))
					}
					if err := history.Append(ctx, projectKey, store.RoleAssistant, answer); err != nil {
						log.Warn("history: append failed", slog.Any("error", err))
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&project, "project", "P", "", "JIRA project key (default: JIRA_PROJECT env var)")

	return cmd
}

// openHistory opens the persistent conversation store, honouring
// JIRAIYA_HISTORY_DB ("disabled" turns persistence off). Failures degrade to
// in-memory history with a warning rather than aborting the chat.
func openHistory(log *slog.Logger) store.ConversationStore {
	dbPath := os.Getenv("JIRAIYA_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via JIRAIYA_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, using in-memory history", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, using in-memory history", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// toSchemaMessages converts persisted history rows into eino chat messages.
func toSchemaMessages(msgs []store.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}
