// Package scheduler implements the in-memory challenge-timing component
// (spec.md §4.C): per-challenge last/next transmission bookkeeping that
// gates assignment readiness, plus the conference daily active-window check.
//
// Grounded on original_source/server/database.py's challenge_timing dict
// (protected by a threading.Lock) and its avg_delay-based next_tx
// calculation in complete_challenge.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type timing struct {
	lastTx time.Time
	nextTx time.Time
}

// Scheduler tracks per-challenge delay timers. It holds no database
// connection; the Store is the source of truth for challenge status, this
// type only decides *when* a waiting challenge becomes ready again.
type Scheduler struct {
	mu     sync.Mutex
	timing map[string]timing
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{timing: make(map[string]timing)}
}

// IsReady reports whether challengeID may be assigned right now. A
// challenge with no timing entry (never transmitted, or reset) is always
// ready.
func (s *Scheduler) IsReady(challengeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timing[challengeID]
	if !ok {
		return true
	}
	return !t.nextTx.After(time.Now())
}

// RecordCompletion stamps last_tx=now and computes next_tx as the midpoint
// of [minDelay, maxDelay] from now, the same (min+max)/2 average the
// original uses; see DESIGN.md Open Question 1.
func (s *Scheduler) RecordCompletion(challengeID string, minDelay, maxDelay time.Duration) {
	now := time.Now()
	avg := (minDelay + maxDelay) / 2

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing[challengeID] = timing{lastTx: now, nextTx: now.Add(avg)}
}

// ManualTrigger clears a challenge's delay timer so it becomes immediately
// ready, used by the operator "force transmit now" action.
func (s *Scheduler) ManualTrigger(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timing, challengeID)
}

// Reset drops all timing state for a challenge (e.g. on delete, or reload
// from the domain config).
func (s *Scheduler) Reset(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timing, challengeID)
}

// NextTransmission reports the next scheduled transmission time for a
// challenge, if known, for status/debugging endpoints.
func (s *Scheduler) NextTransmission(challengeID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timing[challengeID]
	if !ok {
		return time.Time{}, false
	}
	return t.nextTx, true
}

// ParseClock parses an "HH:MM" 24-hour clock string.
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q, want HH:MM", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// WithinDailyWindow reports whether now falls within [dayStart, endOfDay)
// local clock time, used to decide auto-pause (spec.md §4.K [FULL] domain
// config's day_start/end_of_day, grounded on original_source/server/api.py's
// day_start/end_of_day system-state fields).
func WithinDailyWindow(now time.Time, dayStart, endOfDay string) (bool, error) {
	if dayStart == "" || endOfDay == "" {
		return true, nil
	}
	startH, startM, err := ParseClock(dayStart)
	if err != nil {
		return false, err
	}
	endH, endM, err := ParseClock(endOfDay)
	if err != nil {
		return false, err
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), startH, startM, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), endH, endM, 0, 0, now.Location())

	if end.Before(start) {
		// Overnight window, e.g. 22:00-06:00.
		return !now.Before(start) || now.Before(end), nil
	}
	return !now.Before(start) && now.Before(end), nil
}
