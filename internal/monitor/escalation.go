package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
)

// EscalationPoster is satisfied by *slack.Poster.
type EscalationPoster interface {
	PostEscalation(ctx context.Context, e slack.Escalation) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// EscalationAck is published when a supervisor reacts to an escalation.
type EscalationAck struct {
	SessionID string          `json:"session_id"`
	Status    slack.AckStatus `json:"status"`
	UserID    string          `json:"user_id"`
	MessageTS string          `json:"message_ts"`
	At        time.Time       `json:"at"`
}

// EscalationSink alerts supervisors when a session turns RED and threads a
// follow-up when it leaves RED.
type EscalationSink struct {
	poster EscalationPoster
	pub    Publisher
	logger *slog.Logger

	mu       sync.Mutex
	threads  map[string]thread // session id -> open escalation
	sessions map[string]string // escalation message ts -> session id
}

type thread struct {
	ts  string
	run string
}

// NewEscalationSink returns a sink posting to poster. pub may be nil.
func NewEscalationSink(poster EscalationPoster, pub Publisher, logger *slog.Logger) *EscalationSink {
	return &EscalationSink{
		poster:   poster,
		pub:      pub,
		logger:   logger,
		threads:  make(map[string]thread),
		sessions: make(map[string]string),
	}
}

func (s *EscalationSink) Name() string { return "escalation" }

func (s *EscalationSink) Emit(ctx context.Context, e Event) error {
	switch {
	case e.Escalated():
		return s.escalate(ctx, e)
	case e.Deescalated():
		s.mu.Lock()
		th, ok := s.threads[e.SessionID]
		s.mu.Unlock()
		if !ok || th.run != e.RunID {
			return nil
		}
		text := fmt.Sprintf("風險等級已降至 %s，下次分析於 %d 秒後。", e.Level, e.NextIntervalSeconds)
		if err := s.poster.PostThread(ctx, th.ts, text); err != nil {
			return fmt.Errorf("post de-escalation: %w", err)
		}
	}
	return nil
}

func (s *EscalationSink) escalate(ctx context.Context, e Event) error {
	esc := slack.Escalation{
		SessionID: e.SessionID,
		Keyword:   e.MatchedKeyword,
		At:        e.At,
	}
	if e.Advisory != nil {
		esc.Summary = e.Advisory.Summary
		esc.Suggestions = e.Advisory.Suggestions
		esc.Fallback = e.Advisory.Fallback
	}

	ts, err := s.poster.PostEscalation(ctx, esc)
	if err != nil {
		return fmt.Errorf("post escalation: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.threads[e.SessionID]; ok {
		delete(s.sessions, old.ts)
	}
	s.threads[e.SessionID] = thread{ts: ts, run: e.RunID}
	s.sessions[ts] = e.SessionID
	s.mu.Unlock()

	if s.pub != nil {
		if err := s.pub.Publish(hermes.SubjectEscalation, e); err != nil {
			return fmt.Errorf("publish escalation: %w", err)
		}
	}
	return nil
}

// SessionStopped forgets the escalation thread opened by that run. A thread
// opened by a later run of the same session is kept.
func (s *EscalationSink) SessionStopped(sessionID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if th, ok := s.threads[sessionID]; ok && th.run == runID {
		delete(s.sessions, th.ts)
		delete(s.threads, sessionID)
	}
}

// HandleReaction is the NATS handler for swarm.slack.reaction. Reactions on
// escalation messages are published as acknowledgements.
func (s *EscalationSink) HandleReaction(subject string, data []byte) {
	evt, err := slack.ParseReactionEvent(data)
	if err != nil {
		s.logger.Error("failed to parse reaction", "error", err)
		return
	}

	status := slack.ParseAck(evt.Reaction)
	if status == slack.AckUnknown {
		return
	}

	s.mu.Lock()
	sessionID, ok := s.sessions[evt.MessageTS]
	s.mu.Unlock()
	if !ok {
		return // not an escalation we're tracking
	}

	s.logger.Info("escalation acknowledged",
		"session_id", sessionID,
		"status", string(status),
		"user_id", evt.UserID,
	)

	if s.pub == nil {
		return
	}
	ack := EscalationAck{
		SessionID: sessionID,
		Status:    status,
		UserID:    evt.UserID,
		MessageTS: evt.MessageTS,
		At:        time.Now().UTC(),
	}
	if err := s.pub.Publish(hermes.SubjectEscalationAck, ack); err != nil {
		s.logger.Warn("failed to publish escalation ack", "session_id", sessionID, "error", err)
	}
}
