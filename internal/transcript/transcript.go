package transcript

import (
	"strings"
	"sync"
	"time"
)

// labelSep joins a speaker role and its utterance in the cumulative transcript.
const labelSep = "："

// Turn is one contiguous utterance by a single speaker.
type Turn struct {
	Role string    `json:"speaker_role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Line renders the turn as it appears in the cumulative transcript.
func (t Turn) Line() string {
	if t.Role == "" {
		return t.Text
	}
	return t.Role + labelSep + t.Text
}

// Transcript is the append-only record of one monitored conversation.
// It is safe for concurrent use; appends are applied in call order.
type Transcript struct {
	mu         sync.RWMutex
	text       strings.Builder
	turns      []Turn
	unlabelled bool // unlabelled text arrived after the last turn
	lastAppend time.Time
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds an utterance. A non-empty role records a speaker turn; an empty
// role (e.g. undiarized ASR output) only extends the cumulative text.
func (t *Transcript) Append(role, text string) {
	role = strings.TrimSpace(role)
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	turn := Turn{Role: role, Text: text, At: now}
	if t.text.Len() > 0 {
		t.text.WriteString("\n")
	}
	t.text.WriteString(turn.Line())

	if role != "" {
		t.turns = append(t.turns, turn)
		t.unlabelled = false
	} else {
		t.unlabelled = true
	}
	t.lastAppend = now
}

// Len returns the number of speaker turns recorded so far.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// LastAppend returns the time of the most recent append, zero if none.
func (t *Transcript) LastAppend() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastAppend
}

// Snapshot captures the transcript as it is right now. Later appends are not
// visible through the returned value.
func (t *Transcript) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	turns := make([]Turn, len(t.turns))
	copy(turns, t.turns)
	return Snapshot{
		Text:       t.text.String(),
		Turns:      turns,
		Unlabelled: t.unlabelled,
	}
}

// Snapshot is an immutable view of a transcript at one instant.
type Snapshot struct {
	Text       string
	Turns      []Turn
	Unlabelled bool
}
