package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dmorn/m4d-chatter/internal/agent"
	"github.com/dmorn/m4d-chatter/internal/history"
	"github.com/dmorn/m4d-chatter/internal/outcome"
	"github.com/dmorn/m4d-chatter/internal/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config [path]",
	Short: "Check a policy document against the schema",
	Long: `Loads a policy document (JSON or YAML) and reports every schema violation
with its path. Exits non-zero when the document is missing or invalid.

The path defaults to --policy, then POLICY_PATH, then ./prompt-config.json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print the retained context window of a conversation",
	Long: `Reads the conversation's window from the configured history backend
(HISTORY_BACKEND and friends), oldest turn first.

Conversation ids are Telegram chat ids, e.g. -1001234567890.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := policyPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = os.Getenv("POLICY_PATH")
	}
	if path == "" {
		path = "./prompt-config.json"
	}

	out := cmd.OutOrStdout()
	doc, err := policy.LoadFile(path)
	if err != nil {
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: %d violation(s)\n", path, len(verr.Violations))
			for _, v := range verr.Violations {
				fmt.Fprintf(out, "  %s: %s\n", v.Path, v.Message)
			}
		}
		return err
	}

	retained := 0
	for id := range doc.Policies {
		if doc.IncludesHistory(id) {
			retained++
		}
	}
	fmt.Fprintf(out, "%s: ok (%d conversations, %d with history)\n", path, len(doc.Policies), retained)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := agent.LoadStoreConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	window := store.Window(cmd.Context(), args[0])
	out := cmd.OutOrStdout()
	switch window.Status {
	case outcome.StatusFailed:
		return window.Err
	case outcome.StatusEmpty:
		fmt.Fprintf(out, "no history for %s\n", args[0])
		return nil
	}

	for _, t := range window.Value {
		speaker := t.Speaker
		if speaker == "" {
			speaker = "-"
		}
		if speaker == history.AssistantSpeaker {
			speaker = "bot"
		}
		fmt.Fprintf(out, "%s  %-12s %s\n", t.When.Format("2006-01-02 15:04:05"), speaker, strings.ReplaceAll(t.Text, "\n", " "))
	}
	return nil
}
