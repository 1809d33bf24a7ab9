// Package match recognizes image file names of the form <key>-<sequence>.<ext>
// and groups them by key. It performs no I/O.
package match

import (
	"regexp"
	"strconv"
	"strings"
)

var namePattern = regexp.MustCompile(`^([^\s/\\]+)-(\d+)\.([A-Za-z0-9]+)$`)

// Match is one recognized file name.
type Match struct {
	// Index is the position of the name in the parsed batch.
	Index    int
	Name     string
	Key      string
	Sequence int
	Ext      string
}

// Result is the outcome of parsing a batch of names.
type Result struct {
	Matches []Match
	// Ignored holds the names which do not follow the convention.
	Ignored []string
}

func (r Result) RecognizedCount() int {
	return len(r.Matches)
}

func (r Result) IgnoredCount() int {
	return len(r.Ignored)
}

// ParseName matches the base name of name. Directory components, using
// either separator, are stripped first.
func ParseName(name string) (Match, bool) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	m := namePattern.FindStringSubmatch(base)
	if m == nil {
		return Match{}, false
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil || seq < 1 {
		return Match{}, false
	}
	return Match{
		Name:     name,
		Key:      m[1],
		Sequence: seq,
		Ext:      strings.ToLower(m[3]),
	}, true
}

// Parse matches every name. Names which do not conform are counted as
// ignored, partial recognition is not an error.
func Parse(names []string) Result {
	var r Result
	for i, name := range names {
		m, ok := ParseName(name)
		if !ok {
			r.Ignored = append(r.Ignored, name)
			continue
		}
		m.Index = i
		r.Matches = append(r.Matches, m)
	}
	return r
}
