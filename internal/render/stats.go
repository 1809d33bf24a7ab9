package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"
	"github.com/vitrine-ops/imgsync/internal/tracker"

	"github.com/charmbracelet/lipgloss"
)

// Stats prints the run counters whenever they change.
type Stats struct {
	w     io.Writer
	theme Theme
	last  string
}

func NewStats(w io.Writer) *Stats {
	return &Stats{w: w, theme: NewTheme(lipgloss.NewRenderer(w))}
}

func (s *Stats) RenderStats(st tracker.Stats) {
	line := StatsLine(st)
	if line == s.last {
		return
	}
	s.last = line
	status := string(st.Status)
	switch {
	case st.Status == model.StatusFailed:
		status = s.theme.Error.Render(status)
	case st.Status == model.StatusCompleted:
		status = s.theme.Success.Render(status)
	case st.Status.Active():
		status = s.theme.Info.Render(status)
	}
	fmt.Fprintf(s.w, "%s %s\n", status, line)
}

// StatsLine is the plain text form of the counters, without the status.
func StatsLine(st tracker.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "products: %s, images: %d, linked: %d, already linked: %d",
		st.ProductsText(), st.Images, st.Summary.Linked, st.Summary.Already)
	if !st.StartedAt.IsZero() && !st.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, ", took %s", st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	}
	if st.Error != "" {
		fmt.Fprintf(&sb, ", error: %s", st.Error)
	}
	return sb.String()
}
