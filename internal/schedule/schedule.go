// Package schedule parses natural-language schedule expressions into
// the timestamps the core stores on Task.ScheduledFor and
// Gate.WaitUntil, as a single entry point backed by a real parser
// rather than an untyped lookup layer.
package schedule

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// parser is built once; the underlying rule set is stateless and safe
// for concurrent Parse calls.
var parser = newParser()

func newParser() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// Parse resolves a free-text expression ("tomorrow at 5pm", "in 3
// days", "next monday") against base (normally time.Now()) and
// returns the absolute timestamp it names. Returns core.ErrInvalidInput
// if no rule in the parser matches the text.
func Parse(text string, base time.Time) (time.Time, error) {
	res, err := parser.Parse(text, base)
	if err != nil {
		return time.Time{}, core.WrapError(core.ErrInvalidInput, err, "schedule: parse %q", text)
	}
	if res == nil {
		return time.Time{}, core.NewError(core.ErrInvalidInput, "schedule: %q does not resolve to a time expression", text)
	}
	return res.Time, nil
}

// ParseScheduledFor parses text into a *time.Time suitable for
// Task.ScheduledFor, or nil if text is empty.
func ParseScheduledFor(text string, base time.Time) (*time.Time, error) {
	if text == "" {
		return nil, nil
	}
	t, err := Parse(text, base)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseWaitUntil parses text into a *time.Time suitable for a timer
// Gate's WaitUntil, or nil if text is empty.
func ParseWaitUntil(text string, base time.Time) (*time.Time, error) {
	return ParseScheduledFor(text, base)
}
