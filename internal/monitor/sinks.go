package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
)

// Publisher publishes a JSON message. Satisfied by *hermes.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// NATSSink publishes every event on the session's advisory subject.
type NATSSink struct {
	pub Publisher
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Emit(_ context.Context, e Event) error {
	return s.pub.Publish(hermes.AdvisorySubject(e.SessionID), e)
}

// AdvisoryWriter persists tick results. Satisfied by *store.Store.
type AdvisoryWriter interface {
	WriteAdvisory(ctx context.Context, sessionID string, a risk.Assessment, next time.Duration, adv *advisory.Advisory) (uuid.UUID, error)
}

// StoreSink keeps the advisory history.
type StoreSink struct {
	w AdvisoryWriter
}

func NewStoreSink(w AdvisoryWriter) *StoreSink {
	return &StoreSink{w: w}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Emit(ctx context.Context, e Event) error {
	_, err := s.w.WriteAdvisory(ctx, e.SessionID, e.Assessment(), e.NextInterval(), e.Advisory)
	return err
}
