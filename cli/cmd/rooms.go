package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/docease/telecare/cli/internal/dns"
	"github.com/docease/telecare/cli/internal/ui"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the live consultation rooms of the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(false)
		if err != nil {
			return err
		}
		rooms, err := fetchRooms(cmd.Context(), cfg.ServerURL)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			ui.PrintInfo("No live rooms")
			return nil
		}
		fmt.Println(ui.RoomsView(rooms, time.Now()))
		return nil
	},
}

type roomsResponse struct {
	Rooms []ui.RoomRow `json:"rooms"`
}

func fetchRooms(ctx context.Context, server string) ([]ui.RoomRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{DialContext: dns.DialContext},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: server returned %s", resp.Status)
	}

	var out roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return out.Rooms, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
