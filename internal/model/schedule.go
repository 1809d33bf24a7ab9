package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseCron validates a 5 field cron expression or a @macro and returns
// the interval between its next two activations.
func ParseCron(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, errors.New("empty cron expression")
	}

	var schedule cron.Schedule
	var err error
	if strings.HasPrefix(e, "@") {
		schedule, err = cron.ParseStandard(e)
	} else {
		parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err = parser5.Parse(e)
	}
	if err != nil {
		return 0, err
	}
	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	return next2.Sub(next1), nil
}

// ParseInterval accepts a Go duration (4s, 1m30s) or an ISO-8601 one (PT4S).
// The result must be positive.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	var err error
	if strings.HasPrefix(s, "P") {
		d, err = ParseISODuration(s)
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", s)
	}
	return d, nil
}

var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseISODuration parses the day and time subset of ISO-8601 durations:
// PnDTnHnMn.nS. Years, months and weeks are ambiguous and rejected.
func ParseISODuration(s string) (time.Duration, error) {
	if s == "P" || strings.HasSuffix(s, "T") {
		return 0, ErrISOFormat
	}
	m := isoDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrISOFormat
	}

	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	var ret time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrISOFormat, err)
		}
		ret += time.Duration(n) * unit
	}
	if sec := m[4]; sec != "" {
		f, err := strconv.ParseFloat(strings.Replace(sec, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrISOFormat, err)
		}
		ret += time.Duration(f * float64(time.Second))
	}
	return ret, nil
}
