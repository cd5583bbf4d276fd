package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"coalesce/pkg/engine"
	"coalesce/pkg/transport"
	"coalesce/pkg/types"
	"coalesce/pkg/utils"
)

// Style definitions
var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	accentValueStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	warningValueStyle = lipgloss.NewStyle().
				Foreground(warningColor).
				Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	iconStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			MarginRight(1)
)

// createPanel wraps content in a bordered panel with a titled header line.
func createPanel(title, icon, content string, width int) string {
	panel := panelStyle.Copy()
	if width > 0 {
		panel = panel.Width(width)
	}
	titleLine := iconStyle.Render(icon) + titleStyle.Render(title)
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, content))
}

func statusCmd() *cobra.Command {
	var showConflicts, showLocks bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show synchronized file state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bus := transport.NewBus()
			eng, err := openEngine(cfg, bus.Endpoint(types.NodeID(cfg.NodeID)), logger)
			if err != nil {
				return err
			}
			defer eng.Stop()

			renderOverview(eng, cfg.NodeID, cfg.UserID)
			renderFiles(eng)
			if showConflicts {
				renderConflicts(eng)
			}
			if showLocks {
				renderLocks(eng)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showConflicts, "conflicts", false, "include pending conflicts")
	cmd.Flags().BoolVar(&showLocks, "locks", false, "include active locks")
	return cmd
}

func renderOverview(eng *engine.Engine, nodeID, userID string) {
	files := eng.Files()
	conflicts := eng.Conflicts()
	pending := eng.PendingFiles()

	var totalSize int64
	for _, f := range files {
		totalSize += f.Metadata.Size
	}

	openConflicts := 0
	for _, c := range conflicts {
		if c.Status == types.ConflictPending {
			openConflicts++
		}
	}

	var content strings.Builder
	metrics := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Node ID", nodeID, accentValueStyle},
		{"User ID", userID, valueStyle},
		{"Files", fmt.Sprintf("%d", len(files)), valueStyle},
		{"Total Size", utils.FormatDataSize(totalSize), valueStyle},
		{"Pending Sync", fmt.Sprintf("%d", len(pending)), pendingStyle(len(pending))},
		{"Open Conflicts", fmt.Sprintf("%d", openConflicts), pendingStyle(openConflicts)},
		{"Channels", fmt.Sprintf("%d", len(eng.Subscriptions())), valueStyle},
	}
	for _, m := range metrics {
		content.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(m.label+":"),
			m.style.Render(m.value)))
	}

	fmt.Println(createPanel("SYNC OVERVIEW", "🔄", strings.TrimSpace(content.String()), 56))
}

func pendingStyle(n int) lipgloss.Style {
	if n > 0 {
		return warningValueStyle
	}
	return accentValueStyle
}

func renderFiles(eng *engine.Engine) {
	files := eng.Files()
	if len(files) == 0 {
		fmt.Println(createPanel("FILES", "📁", mutedStyle.Render("No synchronized files"), 56))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle.Copy().Foreground(fgColor)
		})

	t.Headers("PATH", "STATUS", "SIZE", "VERSION", "LAST SYNC")

	for _, f := range files {
		name := f.Path
		if f.Metadata.HasTag(types.TagDeleted) {
			name = mutedStyle.Render(name + " (deleted)")
		}
		t.Row(
			name,
			statusCell(f.Status),
			utils.FormatDataSize(f.Metadata.Size),
			shortID(f.Version),
			relativeTime(f.LastSyncAt),
		)
	}

	fmt.Println(createPanel("FILES", "📁", t.Render(), 0))
}

func renderConflicts(eng *engine.Engine) {
	conflicts := eng.Conflicts()
	open := conflicts[:0]
	for _, c := range conflicts {
		if c.Status == types.ConflictPending {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		fmt.Println(createPanel("CONFLICTS", "⚡", mutedStyle.Render("No pending conflicts"), 56))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle.Copy().Foreground(fgColor)
		})

	t.Headers("CONFLICT ID", "FILE", "VERSIONS", "AUTHORS", "DETECTED")
	for _, c := range open {
		authors := make([]string, 0, len(c.Versions))
		for _, v := range c.Versions {
			authors = append(authors, string(v.Author))
		}
		t.Row(
			shortID(string(c.ID)),
			shortID(string(c.FileID)),
			fmt.Sprintf("%d", len(c.Versions)),
			strings.Join(authors, ", "),
			relativeTime(c.CreatedAt),
		)
	}

	fmt.Println(createPanel("CONFLICTS", "⚡", t.Render(), 0))
}

func renderLocks(eng *engine.Engine) {
	now := time.Now()
	var rows [][]string
	for _, f := range eng.Files() {
		for _, l := range f.Locks {
			if l.Expired(now) {
				continue
			}
			rows = append(rows, []string{
				f.Path,
				string(l.Holder),
				string(l.Type),
				relativeTime(l.AcquiredAt),
				l.ExpiresAt.Format(time.RFC3339),
			})
		}
	}
	if len(rows) == 0 {
		fmt.Println(createPanel("LOCKS", "🔒", mutedStyle.Render("No active locks"), 56))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return rowStyle.Copy().Foreground(fgColor)
		})
	t.Headers("FILE", "HOLDER", "TYPE", "ACQUIRED", "EXPIRES")
	for _, r := range rows {
		t.Row(r...)
	}

	fmt.Println(createPanel("LOCKS", "🔒", t.Render(), 0))
}

func statusCell(s types.SyncStatus) string {
	switch s {
	case types.StatusSynced:
		return "🟢 " + lipgloss.NewStyle().Foreground(accentColor).Render("SYNCED")
	case types.StatusPending:
		return "🟡 " + lipgloss.NewStyle().Foreground(warningColor).Render("PENDING")
	case types.StatusConflict:
		return "🔴 " + lipgloss.NewStyle().Foreground(dangerColor).Render("CONFLICT")
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	elapsed := time.Since(t)
	switch {
	case elapsed < time.Minute:
		return fmt.Sprintf("%ds ago", int(elapsed.Seconds()))
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	}
}
