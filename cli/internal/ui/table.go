package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/docease/telecare/internal/models"
)

// HistoryView renders a chat history as a table, oldest first.
func HistoryView(history []models.Message) string {
	if len(history) == 0 {
		return MutedStyle.Render("No messages")
	}

	rows := make([][]string, 0, len(history))
	for _, msg := range history {
		rows = append(rows, []string{
			strconv.FormatInt(msg.Seq, 10),
			msg.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%s (%s)", msg.SenderID, RoleLabel(msg.SenderRole)),
			truncate(msg.Text, 60),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Sent", "From", "Message").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomRow is one live room as listed by the server.
type RoomRow struct {
	AppointmentID string    `json:"appointmentId"`
	Members       int       `json:"members"`
	Participants  []string  `json:"participants"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RoomsView renders the live rooms of the relay.
func RoomsView(rooms []RoomRow, now time.Time) string {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	t.AppendHeader(prettytable.Row{"Appointment", "Members", "Participants", "Open for"})
	for _, r := range rooms {
		t.AppendRow(prettytable.Row{
			r.AppointmentID,
			fmt.Sprintf("%d/2", r.Members),
			strings.Join(orUnknown(r.Participants), ", "),
			now.Sub(r.CreatedAt).Truncate(time.Second).String(),
		})
	}
	t.AppendFooter(prettytable.Row{"", fmt.Sprintf("%d rooms", len(rooms)), "", ""})
	return t.Render()
}

// JoinedView is the banner shown once the relay has registered us.
func JoinedView(appointmentID, participantID string, peers int) string {
	peer := MutedStyle.Render("waiting for the other participant")
	if peers > 0 {
		peer = SuccessStyle.Render("the other participant is here")
	}
	content := fmt.Sprintf("%s Joined appointment %s\n\n%s You:   %s\n%s Peer:  %s",
		IconSuccess, BoldStyle.Foreground(Primary).Render(appointmentID),
		IconPeer, participantID,
		IconChat, peer,
	)
	return BoxStyle.Render(content)
}

func orUnknown(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v == "" {
			v = "?"
		}
		out = append(out, v)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
