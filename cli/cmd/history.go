package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docease/telecare/cli/internal/chat"
	"github.com/docease/telecare/cli/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history <appointment-id>",
	Aliases: []string{"h"},
	Short:   "Print an appointment's chat history",
	Long: `Print the chat history of an appointment, oldest message first.
Only the two participants of the appointment can read it.

Examples:
  telecare history apt-42 --as u1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printHistory(cmd.Context(), args[0])
	},
}

func printHistory(ctx context.Context, appointmentID string) error {
	cfg, err := LoadConfig(true)
	if err != nil {
		return err
	}

	sp := ui.NewSimpleSpinner("Fetching messages...")
	sp.Start()
	msgs, err := chat.NewHTTPClient(cfg.ServerURL).Fetch(ctx, appointmentID, cfg.ParticipantID)
	if err != nil {
		sp.Error("Could not fetch messages")
		return err
	}
	sp.Success(fmt.Sprintf("%d messages in appointment %s", len(msgs), appointmentID))

	fmt.Println(ui.HistoryView(msgs))
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
