// Package slack posts the daily digest to an incoming webhook and reads the
// recent history of a channel through the Web API.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/clients"
)

const service = "slack"

type Config struct {
	WebhookURL string
	BotToken   string
	BaseURL    string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	if cfg.WebhookURL == "" && cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: %w", clients.ErrNotConfigured)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://slack.com/api"
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(0)
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

type Message struct {
	Text     string    `json:"text"`
	User     string    `json:"user,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// Post sends text to the incoming webhook.
func (c *Client) Post(ctx context.Context, text string) error {
	if c.cfg.WebhookURL == "" {
		return fmt.Errorf("slack webhook: %w", clients.ErrNotConfigured)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("slack message text is required")
	}
	req, err := clients.NewJSONRequest(ctx, http.MethodPost, c.cfg.WebhookURL, map[string]string{"text": text})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/plain")
	return clients.Do(c.http, service, req, nil)
}

type historyResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Messages []struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		User    string `json:"user"`
		Text    string `json:"text"`
		TS      string `json:"ts"`
	} `json:"messages"`
}

// History returns plain user messages posted to channelID since oldest,
// oldest first.
func (c *Client) History(ctx context.Context, channelID string, oldest time.Time, limit int) ([]Message, error) {
	if c.cfg.BotToken == "" {
		return nil, fmt.Errorf("slack web api: %w", clients.ErrNotConfigured)
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("slack channel id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	q := url.Values{}
	q.Set("channel", channelID)
	q.Set("limit", strconv.Itoa(limit))
	if !oldest.IsZero() {
		q.Set("oldest", strconv.FormatInt(oldest.Unix(), 10))
	}
	req, err := clients.NewJSONRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/conversations.history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BotToken)

	var out historyResponse
	if err := clients.Do(c.http, service, req, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &clients.APIError{Service: service, StatusCode: http.StatusOK, Body: out.Error}
	}

	messages := make([]Message, 0, len(out.Messages))
	for i := len(out.Messages) - 1; i >= 0; i-- {
		m := out.Messages[i]
		if m.Type != "message" || m.Subtype != "" || strings.TrimSpace(m.Text) == "" {
			continue
		}
		messages = append(messages, Message{Text: strings.TrimSpace(m.Text), User: m.User, PostedAt: parseTS(m.TS)})
	}
	return messages, nil
}

func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, nanos).UTC()
}
