package match

import (
	"cmp"
	"iter"
	"slices"
)

// Groups buckets the matches of a Result by key.
type Groups struct {
	keys       []string
	buckets    map[string][]Match
	recognized int
	ignored    int
}

// Group buckets matches by key. Keys are sorted and every bucket is ordered
// by ascending sequence, ties broken by name.
func Group(r Result) Groups {
	g := Groups{
		buckets:    make(map[string][]Match),
		recognized: r.RecognizedCount(),
		ignored:    r.IgnoredCount(),
	}
	for _, m := range r.Matches {
		if _, ok := g.buckets[m.Key]; !ok {
			g.keys = append(g.keys, m.Key)
		}
		g.buckets[m.Key] = append(g.buckets[m.Key], m)
	}
	slices.Sort(g.keys)
	for _, bucket := range g.buckets {
		slices.SortStableFunc(bucket, func(a, b Match) int {
			return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.Name, b.Name))
		})
	}
	return g
}

// Keys returns the distinct keys in ascending order.
func (g Groups) Keys() []string {
	return slices.Clone(g.keys)
}

// Get returns the bucket for key ordered by sequence, or nil.
func (g Groups) Get(key string) []Match {
	return slices.Clone(g.buckets[key])
}

func (g Groups) KeyCount() int {
	return len(g.keys)
}

func (g Groups) RecognizedCount() int {
	return g.recognized
}

func (g Groups) IgnoredCount() int {
	return g.ignored
}

// All iterates the buckets in key order.
func (g Groups) All() iter.Seq2[string, []Match] {
	return func(yield func(string, []Match) bool) {
		for _, k := range g.keys {
			if !yield(k, g.buckets[k]) {
				return
			}
		}
	}
}
