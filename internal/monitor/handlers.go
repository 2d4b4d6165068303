package monitor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MikeSquared-Agency/vigil/internal/hermes"
)

// HandleTranscriptChunk is the NATS handler for swarm.vigil.transcript.
func (m *Manager) HandleTranscriptChunk(subject string, data []byte) {
	var chunk hermes.TranscriptChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		m.logger.Error("failed to parse transcript chunk", "subject", subject, "error", err)
		return
	}
	if err := m.Append(chunk.SessionID, chunk.SpeakerRole, chunk.Text); err != nil {
		m.logger.Warn("dropping transcript chunk", "session_id", chunk.SessionID, "error", err)
	}
}

// HandleSessionStart is the NATS handler for swarm.vigil.session.start.
func (m *Manager) HandleSessionStart(subject string, data []byte) {
	var evt hermes.SessionLifecycle
	if err := json.Unmarshal(data, &evt); err != nil {
		m.logger.Error("failed to parse session start", "subject", subject, "error", err)
		return
	}
	if _, err := m.Start(evt.SessionID); err != nil {
		if errors.Is(err, ErrAlreadyMonitoring) {
			return
		}
		m.logger.Warn("failed to start monitoring", "session_id", evt.SessionID, "error", err)
	}
}

// HandleSessionStop is the NATS handler for swarm.vigil.session.stop.
func (m *Manager) HandleSessionStop(subject string, data []byte) {
	var evt hermes.SessionLifecycle
	if err := json.Unmarshal(data, &evt); err != nil {
		m.logger.Error("failed to parse session stop", "subject", subject, "error", err)
		return
	}
	if err := m.Stop(context.Background(), evt.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		m.logger.Warn("failed to stop monitoring", "session_id", evt.SessionID, "error", err)
	}
}
