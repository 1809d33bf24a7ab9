package match

import "github.com/vitrine-ops/imgsync/internal/model"

type KeyState string

const (
	KeyFound    KeyState = "found"
	KeyNotFound KeyState = "not_found"
	KeyFailed   KeyState = "failed"
	KeyPending  KeyState = "pending"
)

// KeySummary is one line of the folder summary.
type KeySummary struct {
	Key    string
	State  KeyState
	Record model.ResolvedRecord
	Files  []Match
}

// Summary describes a selected folder: what was recognized and which keys
// resolved to a catalog record.
type Summary struct {
	Keys       []KeySummary
	Recognized int
	Ignored    int
	Found      int
	NotFound   int
	Failed     int
}

// Summarize joins groups with resolved records. Keys missing from resolved
// are reported as pending.
func Summarize(g Groups, resolved map[string]model.ResolvedRecord) Summary {
	s := Summary{
		Keys:       make([]KeySummary, 0, g.KeyCount()),
		Recognized: g.RecognizedCount(),
		Ignored:    g.IgnoredCount(),
	}
	for key, files := range g.All() {
		ks := KeySummary{Key: key, Files: files, State: KeyPending}
		if rec, ok := resolved[key]; ok {
			ks.Record = rec
			switch {
			case rec.Found:
				ks.State = KeyFound
				s.Found++
			case rec.Failure != "":
				ks.State = KeyFailed
				s.Failed++
			default:
				ks.State = KeyNotFound
				s.NotFound++
			}
		}
		s.Keys = append(s.Keys, ks)
	}
	return s
}

// FoundFiles returns the files of every found key, in key then sequence order.
func (s Summary) FoundFiles() []Match {
	var out []Match
	for _, k := range s.Keys {
		if k.State == KeyFound {
			out = append(out, k.Files...)
		}
	}
	return out
}
