// Package cursor tracks the pagination state of one subject walk and decides
// when the walk has to end. Upstream pagination is not guaranteed to
// terminate, so a cursor is only followed when it moves forward on every
// dimension at once.
package cursor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is the paging.next object returned by the upstream stream API.
type Cursor struct {
	IgnoredIDs []string `json:"ignoredIds,omitempty"`
	To         string   `json:"to,omitempty"`
	Page       int      `json:"page,omitempty"`
}

// UnmarshalJSON accepts "to" as either a JSON string or a JSON number.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw struct {
		IgnoredIDs []string        `json:"ignoredIds"`
		To         json.RawMessage `json:"to"`
		Page       int             `json:"page"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	to, err := decodeTo(raw.To)
	if err != nil {
		return err
	}
	c.IgnoredIDs = raw.IgnoredIDs
	c.To = to
	c.Page = raw.Page
	return nil
}

func decodeTo(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("cursor field to: %w", err)
	}
	return n.String(), nil
}

// State is the position of a walk in the cursor state machine.
type State int

const (
	Start State = iota
	Continuing
	Stalled
	Exhausted
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case Continuing:
		return "continuing"
	case Stalled:
		return "stalled"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further fetch may be issued.
func (s State) Terminal() bool {
	return s == Stalled || s == Exhausted
}

// Controller holds the cursor for the walk in progress. The zero value is a
// walk that has not fetched anything yet.
type Controller struct {
	state   State
	current *Cursor
}

func New() *Controller {
	return &Controller{}
}

func (c *Controller) State() State {
	return c.state
}

// Cursor returns the cursor the next fetch should use, or nil on the first
// fetch.
func (c *Controller) Cursor() *Cursor {
	return c.current
}

// Advance feeds the paging.next of the response that was just fetched and
// returns the resulting state. Terminal states absorb further input.
func (c *Controller) Advance(next *Cursor) State {
	if c.state.Terminal() {
		return c.state
	}
	if next == nil {
		c.state = Exhausted
		return c.state
	}
	if c.state == Start {
		c.current = next
		c.state = Continuing
		return c.state
	}
	if !Advances(c.current, next) {
		c.state = Stalled
		return c.state
	}
	c.current = next
	return c.state
}

// Advances reports whether next strictly moves past prev: a later "to", a
// higher page and a different set of ignored ids. Two out of three is not
// enough.
func Advances(prev, next *Cursor) bool {
	if prev == nil || next == nil {
		return false
	}
	return compareTo(next.To, prev.To) > 0 &&
		next.Page > prev.Page &&
		!sameSet(next.IgnoredIDs, prev.IgnoredIDs)
}

// compareTo orders two "to" tokens numerically when both are integers and
// lexically otherwise.
func compareTo(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}
