package hermes

import "strings"

// Inbound subjects.
const (
	SubjectTranscript   = "swarm.vigil.transcript"
	SubjectSessionStart = "swarm.vigil.session.start"
	SubjectSessionStop  = "swarm.vigil.session.stop"
)

// Outbound subjects.
const (
	SubjectAdvisoryPrefix = "swarm.vigil.advisory."
	SubjectEscalation     = "swarm.vigil.escalation"
	SubjectEscalationAck  = "swarm.vigil.escalation.ack"
)

// TranscriptChunk is new speech or text for a monitored session.
type TranscriptChunk struct {
	SessionID   string `json:"session_id"`
	SpeakerRole string `json:"speaker_role"`
	Text        string `json:"text"`
}

// SessionLifecycle starts or stops monitoring of a session.
type SessionLifecycle struct {
	SessionID string `json:"session_id"`
}

// AdvisorySubject returns the per-session subject advisories are published on.
// Characters that are special in NATS subjects are replaced.
func AdvisorySubject(sessionID string) string {
	return SubjectAdvisoryPrefix + subjectToken(sessionID)
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
