// Package render prints tracker state on a terminal.
package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/charmbracelet/lipgloss"
)

// Theme styles a severity label. Colors are dropped automatically when
// the writer is not a terminal.
type Theme struct {
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Muted   lipgloss.Style
	Title   lipgloss.Style
}

func NewTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Info:    r.NewStyle().Foreground(lipgloss.Color("#2196F3")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true),
		Success: r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		Muted:   r.NewStyle().Faint(true),
		Title:   r.NewStyle().Bold(true).Underline(true),
	}
}

func (t Theme) severity(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityWarning:
		return t.Warning
	case model.SeverityError:
		return t.Error
	case model.SeveritySuccess:
		return t.Success
	default:
		return t.Info
	}
}

// Console prints each log entry once, in order. It is safe for concurrent use.
type Console struct {
	w     io.Writer
	theme Theme

	mx      sync.Mutex
	printed map[string]struct{}
}

func NewConsole(w io.Writer) *Console {
	return &Console{
		w:       w,
		theme:   NewTheme(lipgloss.NewRenderer(w)),
		printed: make(map[string]struct{}),
	}
}

// RenderLogs prints the entries it has not printed yet. An empty list
// means the log was cleared.
func (c *Console) RenderLogs(entries []model.LogEntry) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if len(entries) == 0 {
		clear(c.printed)
		return
	}
	for _, e := range entries {
		if _, ok := c.printed[e.ID]; ok {
			continue
		}
		c.printed[e.ID] = struct{}{}
		label := c.theme.severity(e.Severity).Render(fmt.Sprintf("%-7s", e.Severity))
		origin := ""
		if e.Origin == model.OriginServer {
			origin = c.theme.Muted.Render(" server")
		}
		fmt.Fprintf(c.w, "%s %s%s %s\n",
			c.theme.Muted.Render(e.Timestamp.Format("15:04:05")),
			label,
			origin,
			e.Message,
		)
	}
}
