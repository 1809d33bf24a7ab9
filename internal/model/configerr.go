package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigErrDetail is one humanized config validation problem.
type ConfigErrDetail struct {
	Path    string // auth.token
	Code    string // missing_required | unknown_field | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string
	Pos     ConfigErrPosition
	Raw     string
}

func (c ConfigErrDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type ConfigErrPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
	reEnum        = regexp.MustCompile(`(?i)must be one of|expected one of|empty disjunction`)
	reOutOfBound  = regexp.MustCompile(`(?i)invalid value .* \(out of bound`)
)

// enumPaths get the list of accepted values appended to their message.
var enumPaths = []string{"auth.type", "log.format"}

func humanize(err error, root cue.Value) []ConfigErrDetail {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []ConfigErrDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		if _, ok := seen[path+"\x00"+code]; ok {
			continue
		}
		seen[path+"\x00"+code] = struct{}{}

		for _, enumPath := range enumPaths {
			if path != enumPath {
				continue
			}
			values, dflt := enumStrings(root.LookupPath(cue.ParsePath(enumPath)))
			if len(values) > 0 {
				msg += fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
			}
			if dflt != "" {
				msg += fmt.Sprintf(" (default %s)", dflt)
			}
		}

		out = append(out, ConfigErrDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
			Raw:     raw,
		})
	}
	return out
}

func enumStrings(v cue.Value) (values []string, dflt string) {
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			dflt = s
		}
	}
	op, args := v.Expr()
	if op != cue.OrOp {
		if s, err := v.String(); err == nil {
			values = append(values, s)
		}
		return values, dflt
	}
	for _, a := range args {
		s, err := a.String()
		if err != nil || a.Kind() != cue.StringKind {
			continue
		}
		values = append(values, s)
	}
	return values, dflt
}

func position(err cueerrors.Error) ConfigErrPosition {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() == "" {
			continue
		}
		return ConfigErrPosition{
			Filename: p.Filename(),
			Line:     p.Line(),
			Column:   p.Column(),
		}
	}
	return ConfigErrPosition{}
}

func normalizePath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	field := last(path)
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", field)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", field)
	case reEnum.MatchString(raw):
		return "invalid_enum", fmt.Sprintf("Field %s has invalid value", field)
	case reOutOfBound.MatchString(raw):
		return "out_of_bound", fmt.Sprintf("Field %s is out of range", field)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", field)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", field)
	default:
		return "validation_error", raw
	}
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
