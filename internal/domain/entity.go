// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"time"
)

// ActionKind selects which removal the executor performs for a contact.
type ActionKind string

const (
	ActionRemoveConnection ActionKind = "remove-connection"
	ActionUnfollow         ActionKind = "unfollow"
)

// Valid reports whether k is a known action.
func (k ActionKind) Valid() bool {
	return k == ActionRemoveConnection || k == ActionUnfollow
}

// Verb returns the past-tense label used in logs and messages.
func (k ActionKind) Verb() string {
	if k == ActionUnfollow {
		return "unfollowed"
	}
	return "removed"
}

// Contact is a single discovered connection.
// ID is either an external identifier or a synthetic one (see SyntheticPrefix).
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// SyntheticPrefix marks locally generated contact ids. They are derived from the
// display name and position on the page, so they only identify a contact
// while the page layout is unchanged.
const SyntheticPrefix = "temp_"

// RunState is the controller's coarse state machine position.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateStarting RunState = "starting"
	StateRunning  RunState = "running"
)

// StopReason records why a session returned to Idle.
type StopReason string

const (
	StopNone          StopReason = ""
	StopExhausted     StopReason = "exhausted"
	StopQuotaReached  StopReason = "quota_reached"
	StopTargetInvalid StopReason = "target_invalid"
	StopRequested     StopReason = "stopped"
	StopClosed        StopReason = "closed"
)

// ExclusionSet holds ids the user wants to keep.
type ExclusionSet map[string]struct{}

// NewExclusionSet builds a set from ids, ignoring empty strings.
func NewExclusionSet(ids ...string) ExclusionSet {
	set := make(ExclusionSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has reports whether id is excluded.
func (s ExclusionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Merge returns a new set containing the ids of both sets.
func (s ExclusionSet) Merge(other ExclusionSet) ExclusionSet {
	merged := make(ExclusionSet, len(s)+len(other))
	for id := range s {
		merged[id] = struct{}{}
	}
	for id := range other {
		merged[id] = struct{}{}
	}
	return merged
}

// IDs returns the ids in unspecified order.
func (s ExclusionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

const (
	MinDelay           = time.Second
	MaxDelay           = 30 * time.Second
	DefaultDelay       = 2 * time.Second
	FallbackDailyLimit = 75
)

// Settings are supplied by the caller at start time and immutable during a run.
type Settings struct {
	Delay      time.Duration
	DailyLimit int
	Exclusions ExclusionSet
}

// Normalize clamps the delay into [MinDelay, MaxDelay] and fixes the limit.
// A zero limit falls back to FallbackDailyLimit; a negative one becomes 1.
func (s Settings) Normalize() Settings {
	switch {
	case s.Delay <= 0:
		s.Delay = DefaultDelay
	case s.Delay < MinDelay:
		s.Delay = MinDelay
	case s.Delay > MaxDelay:
		s.Delay = MaxDelay
	}
	switch {
	case s.DailyLimit == 0:
		s.DailyLimit = FallbackDailyLimit
	case s.DailyLimit < 0:
		s.DailyLimit = 1
	}
	if s.Exclusions == nil {
		s.Exclusions = ExclusionSet{}
	}
	return s
}

// DailyQuota is the persisted per-day removal counter.
type DailyQuota struct {
	Day        string
	CountSoFar int
}

// DayID returns the calendar-day identifier used as the quota key.
func DayID(t time.Time) string {
	return t.Format("2006-01-02")
}

// Target is the surface the executor acts on (a browser tab).
type Target struct {
	ID  string
	URL string
}

// ActionResult is the executor's report for one attempt.
type ActionResult struct {
	Success bool
	Name    string
	Reason  string
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running              bool       `json:"running"`
	State                RunState   `json:"state"`
	Action               ActionKind `json:"action,omitempty"`
	ProcessedToday       int        `json:"processedToday"`
	ProcessedThisSession int        `json:"processedThisSession"`
	RemainingCount       int        `json:"remainingCount"`
	LastStopReason       StopReason `json:"lastStopReason,omitempty"`
}

// StartAck is returned once the queue is built, before any item is processed.
type StartAck struct {
	QueueSize      int `json:"queueSize"`
	DailyLimit     int `json:"dailyLimit"`
	ProcessedToday int `json:"processedToday"`
}

// StopResult summarises the latest session.
type StopResult struct {
	ProcessedThisSession int `json:"processedThisSession"`
	RemainingCount       int `json:"remainingCount"`
}

// Progress is one Bulk Loader report. Contacts always carries the complete list so far;
// trimming and chunking happen at the transport boundary.
type Progress struct {
	Percent  int       `json:"progress"`
	Message  string    `json:"message"`
	Contacts []Contact `json:"-"`
	Count    int       `json:"contactsSoFar"`
	Done     bool      `json:"done"`
}

// AbortAck acknowledges an abort request.
type AbortAck struct {
	WasLoading     bool `json:"wasLoading"`
	ContactsLoaded int  `json:"contactsLoaded"`
}
