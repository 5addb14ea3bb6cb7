// Package domain contains core domain types for the learner conversation engine.
package domain

import (
	"time"
)

// Session is a conversation bound to one origin address and one opaque token.
type Session struct {
	ID            int64      `json:"-"`
	Token         string     `json:"session_id"`
	OriginAddress string     `json:"ip"`
	Age           int        `json:"age"`
	Busy          bool       `json:"is_busy"`
	WisdomPoints  int        `json:"wisdom_points"`
	BusySince     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MatchesOrigin reports whether addr is the address the session was created from.
func (s *Session) MatchesOrigin(addr string) bool {
	return s.OriginAddress != "" && s.OriginAddress == addr
}

// BusyFor returns how long the session has been busy, or 0 when idle.
func (s *Session) BusyFor(now time.Time) time.Duration {
	if !s.Busy || s.BusySince == nil {
		return 0
	}
	d := now.Sub(*s.BusySince)
	if d < 0 {
		return 0
	}
	return d
}

// RateCounts holds human message counts inside the trailing rate window.
type RateCounts struct {
	PerSession int
	PerOrigin  int
}
