package render

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/charmbracelet/lipgloss"
)

// Filter selects records by case-insensitive substrings. Empty fields match anything.
type Filter struct {
	Name    string
	Code    string
	Barcode string
}

func contains(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}

func (f Filter) Match(r model.RecordVerificationResult) bool {
	return contains(r.DisplayName, f.Name) && contains(r.Code, f.Code) && contains(r.Barcode, f.Barcode)
}

func (f Filter) Apply(records []model.RecordVerificationResult) []model.RecordVerificationResult {
	var ret []model.RecordVerificationResult
	for _, r := range records {
		if f.Match(r) {
			ret = append(ret, r)
		}
	}
	return ret
}

// FolderGroup is one remote folder of the mirror view.
type FolderGroup struct {
	Folder  model.Folder
	Records int
	Images  int
}

// Mirror groups records by the drive folder their images came from,
// sorted by folder name. Records without a folder are grouped under an
// empty one.
func Mirror(records []model.RecordVerificationResult) []FolderGroup {
	idx := make(map[string]int)
	var ret []FolderGroup
	for _, r := range records {
		key := r.Folder.Key()
		i, ok := idx[key]
		if !ok {
			i = len(ret)
			idx[key] = i
			ret = append(ret, FolderGroup{Folder: r.Folder})
		}
		ret[i].Records++
		ret[i].Images += len(r.Images)
	}
	slices.SortStableFunc(ret, func(a, b FolderGroup) int {
		return cmp.Or(
			cmp.Compare(a.Folder.Name, b.Folder.Name),
			cmp.Compare(a.Folder.Key(), b.Folder.Key()),
		)
	})
	return ret
}

type imageCounts struct {
	uploaded, already, failed int
}

func countImages(r model.RecordVerificationResult) imageCounts {
	var c imageCounts
	for _, img := range r.Images {
		switch img.Status {
		case model.ImageUploaded:
			c.uploaded++
		case model.ImageAlready:
			c.already++
		case model.ImageFailed:
			c.failed++
		}
	}
	return c
}

// Records prints the per record results of a run.
type Records struct {
	w      io.Writer
	theme  Theme
	filter Filter
	mirror bool
}

type RecordsOption func(*Records)

func WithFilter(f Filter) RecordsOption {
	return func(r *Records) {
		r.filter = f
	}
}

// WithMirror adds the folder view after the record table.
func WithMirror() RecordsOption {
	return func(r *Records) {
		r.mirror = true
	}
}

func NewRecords(w io.Writer, opts ...RecordsOption) *Records {
	r := &Records{w: w, theme: NewTheme(lipgloss.NewRenderer(w))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Records) RenderRecords(records []model.RecordVerificationResult) {
	selected := r.filter.Apply(records)
	if len(selected) == 0 {
		if len(records) > 0 {
			fmt.Fprintf(r.w, "no record matches the filter (%d hidden)\n", len(records))
		}
		return
	}

	fmt.Fprintln(r.w, r.theme.Title.Render("Records"))
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tCODE\tBARCODE\tUPLOADED\tALREADY\tFAILED")
	for _, rec := range selected {
		c := countImages(rec)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			rec.Key, rec.DisplayName, rec.Code, rec.Barcode, c.uploaded, c.already, c.failed)
	}
	_ = tw.Flush()

	if !r.mirror {
		return
	}
	fmt.Fprintln(r.w, r.theme.Title.Render("Folders"))
	tw = tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tPATH\tRECORDS\tIMAGES")
	for _, g := range Mirror(selected) {
		name := cmp.Or(g.Folder.Name, g.Folder.ID, "-")
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", name, cmp.Or(g.Folder.Path, "-"), g.Records, g.Images)
	}
	_ = tw.Flush()
}
