package render

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

const maxPathWidth = 48

// PoolView is one registered pool as shown by the status command.
type PoolView struct {
	Path  string     `json:"path"`
	Size  int64      `json:"size_bytes"`
	Stats pool.Stats `json:"stats"`
}

type queueRow struct {
	name  string
	stats pool.QueueStats
}

func queueRows(s pool.Stats) []queueRow {
	return []queueRow{{"write", s.Write}, {"read", s.Read}}
}

// RenderPoolTable renders the queues of each pool as a table.
func RenderPoolTable(views []PoolView) string {
	if len(views) == 0 {
		return EmptyState("No pools open.", "Create the database with: litepool init", false)
	}

	if !ColorsEnabled() {
		return renderPlainPoolTable(views)
	}

	headers := []string{"Pool", "Queue", "Status", "Total", "Idle", "In use", "File"}

	var rows [][]string
	var colors []string
	for _, v := range views {
		for _, q := range queueRows(v.Stats) {
			rows = append(rows, poolRow(v, q))
			colors = append(colors, q.stats.Status.Color())
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)

			if row == table.HeaderRow {
				return s.Bold(true).Foreground(lipgloss.Color("15"))
			}
			if row < 0 || row >= len(colors) {
				return s
			}

			switch col {
			case 0: // Pool
				return s.Bold(true)
			case 2: // Status
				return s.Foreground(ColorFromName(colors[row]))
			case 6: // File
				return s.Foreground(lipgloss.Color("8"))
			default:
				return s
			}
		})

	return t.Render()
}

func poolRow(v PoolView, q queueRow) []string {
	return []string{
		v.Stats.Name,
		q.name,
		q.stats.Status.String(),
		humanize.Comma(int64(q.stats.Total)),
		humanize.Comma(int64(q.stats.Idle)),
		humanize.Comma(int64(q.stats.InUse())),
		fileLabel(v),
	}
}

func fileLabel(v PoolView) string {
	if v.Size <= 0 {
		return truncateLeft(v.Path, maxPathWidth)
	}
	return fmt.Sprintf("%s (%s)", truncateLeft(v.Path, maxPathWidth), humanize.IBytes(uint64(v.Size)))
}

func renderPlainPoolTable(views []PoolView) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-14s %-6s %-9s %6s %6s %6s  %s\n",
		"Pool", "Queue", "Status", "Total", "Idle", "In use", "File")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 100))

	for _, v := range views {
		for _, q := range queueRows(v.Stats) {
			r := poolRow(v, q)
			fmt.Fprintf(&b, "%-14s %-6s %-9s %6s %6s %6s  %s\n",
				r[0], r[1], r[2], r[3], r[4], r[5], r[6])
		}
	}

	return b.String()
}

// RenderPoolTree renders one pool with its queues as a tree.
func RenderPoolTree(v PoolView) string {
	root := v.Stats.Name
	if v.Path != "" {
		root += " " + StyledText(truncateLeft(v.Path, maxPathWidth), lipgloss.NewStyle().Foreground(lipgloss.Color("8")))
	}

	if !ColorsEnabled() {
		var b strings.Builder
		b.WriteString(root + "\n")
		for _, q := range queueRows(v.Stats) {
			fmt.Fprintf(&b, "  %s\n", queueNode(q))
		}
		return b.String()
	}

	t := tree.New().Root(root)
	for _, q := range queueRows(v.Stats) {
		t.Child(queueNode(q))
	}
	return t.String()
}

func queueNode(q queueRow) string {
	status := StyledText(q.stats.Status.String(), lipgloss.NewStyle().Foreground(ColorFromName(q.stats.Status.Color())))
	return fmt.Sprintf("%s %s %d/%d idle", q.name, status, q.stats.Idle, q.stats.Total)
}
