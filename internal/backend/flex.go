package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// text accepts a JSON string, number or boolean. null is empty.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*t = text(b)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected a string, got %s", abbrev(b))
		}
		*t = text(n.String())
	}
	return nil
}

func (t text) String() string {
	return strings.TrimSpace(string(t))
}

// flexInt accepts a JSON number, possibly fractional, or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	if i, err := strconv.Atoi(raw); err == nil {
		*n = flexInt(i)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("expected a number, got %s", abbrev(b))
	}
	*n = flexInt(math.Trunc(f))
	return nil
}

// counter is a summary or meta field. A key sent as null is still present
// and counts as zero, only a missing key leaves the run's value alone.
type counter struct {
	set bool
	n   flexInt
}

func (c *counter) UnmarshalJSON(b []byte) error {
	c.set = true
	return c.n.UnmarshalJSON(b)
}

func (c counter) ptr() *int {
	if !c.set {
		return nil
	}
	i := int(c.n)
	return &i
}

// parseTime accepts RFC 3339 or epoch milliseconds. Anything else is the
// zero time.
func parseTime(s text) time.Time {
	v := s.String()
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func abbrev(b []byte) string {
	const max = 32
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
