package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

var (
	ErrSessionNotFound   = errors.New("session not monitored")
	ErrAlreadyMonitoring = errors.New("session already monitored")
	ErrBusy              = errors.New("analysis already in flight")
	ErrShuttingDown      = errors.New("monitor shutting down")
)

// State is where a session is in its analysis loop.
type State string

const (
	StateIdle      State = "IDLE"
	StateScheduled State = "SCHEDULED"
	StateAnalyzing State = "ANALYZING"
)

// session is the per-conversation monitoring state. The transcript has its own
// lock; everything else is guarded by mu.
type session struct {
	id         string
	run        string // unique per Start; keys the cache handle and cost totals
	transcript *transcript.Transcript
	startedAt  time.Time

	mu         sync.Mutex
	state      State
	stopped    bool
	level      risk.Level
	assessment risk.Assessment
	interval   time.Duration
	timer      *time.Timer
	gen        uint64 // bumped on every arm and stop; stale timers compare against it
	nextAt     time.Time
	ticks      int
	deferred   int
	lastTickAt time.Time
	last       *advisory.Advisory
}

// Status is a point-in-time view of a monitored session.
type Status struct {
	SessionID       string             `json:"session_id"`
	RunID           string             `json:"run_id"`
	State           State              `json:"state"`
	Level           risk.Level         `json:"risk_level"`
	MatchedKeyword  string             `json:"matched_keyword,omitempty"`
	IntervalSeconds int                `json:"interval_seconds"`
	Turns           int                `json:"turns"`
	Ticks           int                `json:"ticks"`
	DeferredFires   int                `json:"deferred_fires"`
	StartedAt       time.Time          `json:"started_at"`
	LastAppendAt    *time.Time         `json:"last_append_at,omitempty"`
	LastTickAt      *time.Time         `json:"last_tick_at,omitempty"`
	NextTickAt      *time.Time         `json:"next_tick_at,omitempty"`
	LastAdvisory    *advisory.Advisory `json:"last_advisory,omitempty"`
	Cost            accounting.Totals  `json:"cost"`
}

func (s *session) status() Status {
	s.mu.Lock()
	st := Status{
		SessionID:       s.id,
		RunID:           s.run,
		State:           s.state,
		Level:           s.level,
		MatchedKeyword:  s.assessment.MatchedKeyword,
		IntervalSeconds: int(s.interval.Seconds()),
		Ticks:           s.ticks,
		DeferredFires:   s.deferred,
		StartedAt:       s.startedAt,
		LastTickAt:      timePtr(s.lastTickAt),
		LastAdvisory:    s.last,
	}
	if s.state == StateScheduled {
		st.NextTickAt = timePtr(s.nextAt)
	}
	s.mu.Unlock()

	st.Turns = s.transcript.Len()
	st.LastAppendAt = timePtr(s.transcript.LastAppend())
	return st
}

func (s *session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// lastActivity is the later of the start time and the most recent append.
func (s *session) lastActivity() time.Time {
	if t := s.transcript.LastAppend(); t.After(s.startedAt) {
		return t
	}
	return s.startedAt
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
