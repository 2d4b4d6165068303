package slack

import (
	"encoding/json"
	"fmt"
)

// SubjectReaction is where slack-forwarder publishes reaction events.
const SubjectReaction = "swarm.slack.reaction"

// ReactionEvent is the structure received from slack-forwarder via NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// AckStatus is a supervisor's response to an escalation.
type AckStatus string

const (
	AckSeen     AckStatus = "seen"
	AckResolved AckStatus = "resolved"
	AckUnknown  AckStatus = "unknown"
)

// ParseAck converts a Slack reaction emoji name to an acknowledgement.
func ParseAck(reaction string) AckStatus {
	switch reaction {
	case "eyes", "+1", "thumbsup":
		return AckSeen
	case "white_check_mark", "heavy_check_mark", "ballot_box_with_check":
		return AckResolved
	default:
		return AckUnknown
	}
}

// ParseReactionEvent parses a NATS message payload from slack-forwarder into a ReactionEvent.
func ParseReactionEvent(data []byte) (*ReactionEvent, error) {
	// The slack-forwarder publishes events with metadata in a wrapper.
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := &ReactionEvent{
		Reaction:  wrapper.Metadata["text"],
		UserID:    wrapper.Metadata["user_id"],
		Channel:   wrapper.Metadata["channel_id"],
		MessageTS: wrapper.Metadata["message_ts"],
	}

	if len(evt.Reaction) > 2 && evt.Reaction[0] == ':' && evt.Reaction[len(evt.Reaction)-1] == ':' {
		evt.Reaction = evt.Reaction[1 : len(evt.Reaction)-1]
	}

	return evt, nil
}
