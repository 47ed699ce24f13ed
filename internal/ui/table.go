package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/meshcall/internal/participant"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/room"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// RosterRow is one participant as the roster table shows it.
type RosterRow struct {
	Participant participant.Participant
	State       peer.State
	Connected   bool
	Streams     []room.RemoteStream
}

// BuildRoster joins the directory with connection and stream state.
func BuildRoster(ps []participant.Participant, states map[string]peer.State, streams map[string][]room.RemoteStream) []RosterRow {
	rows := make([]RosterRow, 0, len(ps))
	for _, p := range ps {
		state, ok := states[p.ID]
		rows = append(rows, RosterRow{
			Participant: p,
			State:       state,
			Connected:   ok,
			Streams:     streams[p.ID],
		})
	}
	return rows
}

// RosterView renders the participants table.
func RosterView(rows []RosterRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render(IconWaiting + " Waiting for others to join")
	}

	headers := []string{"#", "Name", "Video", "Audio", "Link", "Inbound"}

	var data [][]string
	for i, r := range rows {
		name := r.Participant.DisplayName
		if name == "" {
			name = r.Participant.ID
		}
		link := "-"
		if r.Connected {
			link = r.State.String()
		}
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			truncateString(name, 24),
			onOff(r.Participant.VideoOn),
			onOff(r.Participant.AudioOn),
			link,
			streamSummary(r.Streams),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(data...).
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

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func streamSummary(streams []room.RemoteStream) string {
	if len(streams) == 0 {
		return "-"
	}
	var video, audio int
	for _, s := range streams {
		if s.Media == signaling.MediaVideo {
			video++
		} else {
			audio++
		}
	}
	var parts []string
	if video > 0 {
		parts = append(parts, fmt.Sprintf("%dv", video))
	}
	if audio > 0 {
		parts = append(parts, fmt.Sprintf("%da", audio))
	}
	return strings.Join(parts, " ")
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// RoomInfo is the box shown after joining.
type RoomInfo struct {
	Room     string
	Server   string
	Username string
}

func (r RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joined room\n\n%s Room:    %s\n%s You:     %s\n%s Relay:   %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.Room),
		IconPeer, r.Username,
		IconConnect, MutedStyle.Render(r.Server),
	)

	return boxStyle.Render(content)
}
