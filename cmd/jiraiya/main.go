// Command jiraiya is the entry point for the Jiraiya JIRA knowledge assistant.
// It indexes a JIRA project's issues into a local vector store and answers
// natural language questions about them, via a CLI or an optional HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/KixPanganiban/jiraiya-go/cmd/jiraiya/commands"
)

func main() {
	// A local .env is optional; missing files are not an error.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
