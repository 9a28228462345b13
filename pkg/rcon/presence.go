package rcon

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PresenceSnapshot is the result of one presence query. A failed query has
// OK=false, no users and Err wrapping ErrPresenceUnknown.
type PresenceSnapshot struct {
	Users []string
	Count int
	Max   int
	At    time.Time
	OK    bool
	Err   error
}

// Occupied reports whether the server must be treated as having players.
// An unknown presence counts as occupied.
func (s PresenceSnapshot) Occupied() bool {
	return !s.OK || s.Count > 0 || len(s.Users) > 0
}

// MarshalJSON renders Err as a string.
func (s PresenceSnapshot) MarshalJSON() ([]byte, error) {
	type view struct {
		Users []string  `json:"users"`
		Count int       `json:"count"`
		Max   int       `json:"max"`
		At    time.Time `json:"at"`
		OK    bool      `json:"ok"`
		Err   string    `json:"error,omitempty"`
	}
	v := view{Users: s.Users, Count: s.Count, Max: s.Max, At: s.At, OK: s.OK}
	if v.Users == nil {
		v.Users = []string{}
	}
	if s.Err != nil {
		v.Err = s.Err.Error()
	}
	return json.Marshal(v)
}

var (
	reListLong  = regexp.MustCompile(`(?i)there are\s+(\d+)\s+of a max(?: of)?\s+(\d+)\s+players online:?(.*)`)
	reListShort = regexp.MustCompile(`(?i)there are\s+(\d+)\s*/\s*(\d+)\s+players online:?(.*)`)
	reColor     = regexp.MustCompile(`§[0-9a-fk-or]`)
)

// ParseList parses the output of the "list" command.
func ParseList(out string) (users []string, count, limit int, err error) {
	out = reColor.ReplaceAllString(out, "")
	out = strings.Join(strings.Fields(out), " ")

	m := reListLong.FindStringSubmatch(out)
	if m == nil {
		m = reListShort.FindStringSubmatch(out)
	}
	if m == nil {
		return nil, 0, 0, fmt.Errorf("unrecognized list output %q", out)
	}
	count, _ = strconv.Atoi(m[1])
	limit, _ = strconv.Atoi(m[2])

	for _, name := range strings.Split(m[3], ",") {
		if name = strings.TrimSpace(name); name != "" {
			users = append(users, name)
		}
	}
	return users, count, limit, nil
}

// ListConnectedUsers queries who is online. It never returns an error; a
// failed query is reported in the snapshot.
func (c *Client) ListConnectedUsers(ctx context.Context) PresenceSnapshot {
	snap := PresenceSnapshot{At: c.now()}

	out, err := c.exec(ctx, "list")
	if err != nil {
		snap.Err = fmt.Errorf("%w: %w", ErrPresenceUnknown, err)
		return snap
	}
	users, count, limit, err := ParseList(out)
	if err != nil {
		snap.Err = fmt.Errorf("%w: %w", ErrPresenceUnknown, err)
		return snap
	}

	snap.Users = users
	snap.Count = count
	snap.Max = limit
	snap.OK = true
	return snap
}
