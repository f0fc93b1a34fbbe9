// Package dateparse resolves the date expressions used in archive queries.
package dateparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"camarc/internal/camarc"
)

// ErrUnrecognized is returned when no layout or rule covers the whole input.
var ErrUnrecognized = errors.New("unrecognized date expression")

// absoluteLayouts are tried before natural language, in order. All are
// interpreted in UTC unless they carry an offset.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
}

// Natural parses absolute timestamps and English relative expressions such
// as "yesterday" or "3 days ago".
type Natural struct {
	parser *when.Parser
}

var _ camarc.DateParser = (*Natural)(nil)

func NewNatural() *Natural {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Natural{parser: w}
}

// ParseDate resolves text against now. The result is in UTC.
func (n *Natural) ParseDate(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrUnrecognized
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	r, err := n.parser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, text)
	}
	// A rule matching only part of the input ("after lunch yesterday-ish")
	// is treated as a failure.
	if r.Index != 0 || !strings.EqualFold(strings.TrimSpace(r.Text), text) {
		return time.Time{}, fmt.Errorf("%w: %q (only %q understood)", ErrUnrecognized, text, r.Text)
	}
	return r.Time.UTC(), nil
}
