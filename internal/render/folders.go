package render

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vitrine-ops/imgsync/internal/match"

	"github.com/charmbracelet/lipgloss"
)

// Folders prints the summary of a selected folder: every recognized key,
// its files and whether it resolved to a catalog record.
type Folders struct {
	w     io.Writer
	theme Theme
}

func NewFolders(w io.Writer) *Folders {
	return &Folders{w: w, theme: NewTheme(lipgloss.NewRenderer(w))}
}

func (f *Folders) RenderFolders(s match.Summary) {
	fmt.Fprintf(f.w, "%d file(s) recognized, %d ignored, %d key(s): %d found, %d not found, %d failed\n",
		s.Recognized, s.Ignored, len(s.Keys), s.Found, s.NotFound, s.Failed)
	if len(s.Keys) == 0 {
		return
	}
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATE\tNAME\tFILES")
	for _, k := range s.Keys {
		name := k.Record.DisplayName
		if k.State == match.KeyFailed {
			name = k.Record.Failure
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", k.Key, f.state(k.State), name, len(k.Files))
	}
	_ = tw.Flush()
}

func (f *Folders) state(s match.KeyState) string {
	switch s {
	case match.KeyFound:
		return f.theme.Success.Render(string(s))
	case match.KeyFailed:
		return f.theme.Error.Render(string(s))
	case match.KeyNotFound:
		return f.theme.Warning.Render(string(s))
	default:
		return f.theme.Muted.Render(string(s))
	}
}
