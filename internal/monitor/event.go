package monitor

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Event is emitted once per completed tick.
type Event struct {
	SessionID           string                `json:"session_id"`
	RunID               string                `json:"run_id"`
	Level               risk.Level            `json:"risk_level"`
	PreviousLevel       risk.Level            `json:"previous_level"`
	MatchedKeyword      string                `json:"matched_keyword,omitempty"`
	PositiveKeyword     string                `json:"positive_keyword,omitempty"`
	Advisory            *advisory.Advisory    `json:"advisory"`
	NextIntervalSeconds int                   `json:"next_interval_seconds"`
	WindowMode          transcript.WindowMode `json:"window_mode"`
	WindowTurns         int                   `json:"window_turns"`
	Tick                int                   `json:"tick"`
	At                  time.Time             `json:"at"`
}

// Assessment returns the classification the event carries.
func (e Event) Assessment() risk.Assessment {
	return risk.Assessment{Level: e.Level, MatchedKeyword: e.MatchedKeyword, PositiveKeyword: e.PositiveKeyword}
}

// NextInterval is the delay until the session's next tick.
func (e Event) NextInterval() time.Duration {
	return time.Duration(e.NextIntervalSeconds) * time.Second
}

// Escalated reports a transition into RED.
func (e Event) Escalated() bool {
	return e.Level == risk.Red && e.PreviousLevel != risk.Red
}

// Deescalated reports a transition out of RED.
func (e Event) Deescalated() bool {
	return e.PreviousLevel == risk.Red && e.Level != risk.Red
}

// Sink consumes tick events. Errors are logged and counted; they never affect
// the session's schedule.
type Sink interface {
	Name() string
	Emit(ctx context.Context, e Event) error
}

// SessionCloser is implemented by sinks that keep per-session state. runID
// identifies which monitoring run of sessionID ended; a session id may be
// started again before the previous run's last tick has drained.
type SessionCloser interface {
	SessionStopped(sessionID, runID string)
}

// FuncSink adapts an in-process callback.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, e Event) error
}

func (f FuncSink) Name() string { return f.SinkName }

func (f FuncSink) Emit(ctx context.Context, e Event) error { return f.Fn(ctx, e) }
