package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Escalation is what a supervisor sees when a session turns RED. Transcript
// text is deliberately not included; the keyword and summary are enough to
// decide whether to step in.
type Escalation struct {
	SessionID   string
	Keyword     string
	Summary     string
	Suggestions []string
	Fallback    bool
	At          time.Time
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostEscalation alerts the supervisor channel. Returns the message timestamp
// (ts) used to thread follow-ups and match acknowledgement reactions.
func (p *Poster) PostEscalation(ctx context.Context, e Escalation) (string, error) {
	text := formatEscalation(e)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "React: :eyes: on it | :white_check_mark: resolved",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted escalation to slack", "ts", ts, "session_id", e.SessionID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatEscalation(e Escalation) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, ":red_circle: *高風險警示* session `%s`\n", e.SessionID)
	fmt.Fprintf(&sb, "*觸發關鍵字:* %s\n", e.Keyword)
	if !e.At.IsZero() {
		fmt.Fprintf(&sb, "*時間:* %s\n", e.At.Format(time.RFC3339))
	}

	if e.Fallback {
		sb.WriteString("\n_即時建議暫時無法產生，請直接聯繫諮商師。_")
		return sb.String()
	}

	fmt.Fprintf(&sb, "\n*摘要:* %s\n", e.Summary)
	if len(e.Suggestions) > 0 {
		sb.WriteString("*建議:*\n")
		for i, s := range e.Suggestions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
