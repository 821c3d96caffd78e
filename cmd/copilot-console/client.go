package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/intent"
	"github.com/ent0n29/copilot/internal/protocol"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) (*client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base-url is required")
	}
	return &client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}, nil
}

type createSessionRequest struct {
	UserID          string `json:"user_id,omitempty"`
	AlwaysListening bool   `json:"always_listening"`
	Muted           bool   `json:"muted"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type intentsResponse struct {
	Triggers []intent.Trigger `json:"triggers"`
	Actions  []string         `json:"actions"`
}

// wsEnvelope holds the fields of every server message the console reads.
type wsEnvelope struct {
	Type   string        `json:"type"`
	TurnID string        `json:"turn_id,omitempty"`
	Code   string        `json:"code,omitempty"`
	Detail string        `json:"detail,omitempty"`
	Text   string        `json:"text,omitempty"`
	Prompt string        `json:"prompt,omitempty"`
	Turn   dialogue.Turn `json:"turn"`
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any, wantStatus int) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != wantStatus {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) createSession(ctx context.Context, userID string, muted bool) (string, error) {
	var out createSessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/copilot/session", createSessionRequest{
		UserID: userID,
		Muted:  muted,
	}, &out, http.StatusCreated)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func (c *client) endSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/copilot/session/"+url.PathEscape(sessionID)+"/end", nil, nil, http.StatusOK)
}

func (c *client) interpret(ctx context.Context, text string) (intent.ParsedCommand, error) {
	var out intent.ParsedCommand
	err := c.doJSON(ctx, http.MethodPost, "/v1/interpret", map[string]string{"text": text}, &out, http.StatusOK)
	return out, err
}

func (c *client) intents(ctx context.Context) (intentsResponse, error) {
	var out intentsResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/intents", nil, &out, http.StatusOK)
	return out, err
}

func (c *client) wsURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/copilot/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// conversation is one realtime connection driven by typed input.
type conversation struct {
	conn      *websocket.Conn
	sessionID string
	out       io.Writer
	confirm   bool
}

func (c *client) dial(ctx context.Context, sessionID string, out io.Writer, confirm bool) (*conversation, error) {
	wsURL, err := c.wsURL(sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	return &conversation{conn: conn, sessionID: sessionID, out: out, confirm: confirm}, nil
}

func (cv *conversation) Close() error { return cv.conn.Close() }

func (cv *conversation) send(v any) error {
	_ = cv.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return cv.conn.WriteJSON(v)
}

func (cv *conversation) control(action, turnID string) error {
	return cv.send(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: cv.sessionID,
		Action:    action,
		TurnID:    turnID,
		TSMs:      time.Now().UnixMilli(),
	})
}

// say sends one typed utterance and prints what comes back until the turn
// resolves. Confirmation prompts are answered according to cv.confirm.
func (cv *conversation) say(text string, timeout time.Duration) (dialogue.Turn, error) {
	if err := cv.send(protocol.ClientText{
		Type:      protocol.TypeClientText,
		SessionID: cv.sessionID,
		Text:      text,
	}); err != nil {
		return dialogue.Turn{}, err
	}
	fmt.Fprintf(cv.out, "you: %s\n", text)

	deadline := time.Now().Add(timeout)
	for {
		_ = cv.conn.SetReadDeadline(deadline)
		_, data, err := cv.conn.ReadMessage()
		if err != nil {
			return dialogue.Turn{}, fmt.Errorf("ws read: %w", err)
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch protocol.MessageType(env.Type) {
		case protocol.TypeConfirmationRequired:
			fmt.Fprintf(cv.out, "copilot: %s\n", env.Prompt)
			action, answer := protocol.ActionCancel, "no"
			if cv.confirm {
				action, answer = protocol.ActionConfirm, "yes"
			}
			fmt.Fprintf(cv.out, "you: %s\n", answer)
			if err := cv.control(action, env.TurnID); err != nil {
				return dialogue.Turn{}, err
			}
		case protocol.TypeSpeak:
			// Nothing plays audio here, so playback is done at once.
			if err := cv.control(protocol.ActionSpeechDone, env.TurnID); err != nil {
				return dialogue.Turn{}, err
			}
		case protocol.TypeDialogueTurn:
			switch env.Turn.Status {
			case dialogue.StatusCancelled:
				fmt.Fprintln(cv.out, "copilot: cancelled")
			case dialogue.StatusFailed:
				fmt.Fprintf(cv.out, "copilot: %s (%s)\n", env.Turn.ResultText, env.Turn.Error)
			default:
				fmt.Fprintf(cv.out, "copilot: %s\n", env.Turn.ResultText)
			}
			return env.Turn, nil
		case protocol.TypeErrorEvent:
			return dialogue.Turn{}, fmt.Errorf("server error %s: %s", env.Code, env.Detail)
		}
	}
}
