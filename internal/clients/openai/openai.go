// Package openai calls the chat completions API to summarize and classify
// daily notes.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/avidelta/nexus/internal/clients"
)

const (
	service = "openai"

	systemPrompt = "You are a helpful assistant that summarizes daily work notes."
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", clients.ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(0)
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// Summary is the structured digest of a day's notes.
type Summary struct {
	Highlights  []string `json:"highlights"`
	ActionItems []string `json:"action_items"`
	Assessment  string   `json:"assessment"`
	Model       string   `json:"-"`
}

// Summarize asks the model for highlights, action items and an assessment.
// A reply that is not JSON is kept as a single highlight.
func (c *Client) Summarize(ctx context.Context, notes []string) (Summary, error) {
	if len(notes) == 0 {
		return Summary{Highlights: []string{}, ActionItems: []string{}, Assessment: "No notes to process"}, nil
	}
	lines := make([]string, 0, len(notes))
	for i, note := range notes {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, note))
	}
	prompt := "Analyze these daily notes and provide a structured summary:\n\n" +
		strings.Join(lines, "\n") +
		"\n\nExtract:\n1. Key highlights (2-4 bullet points)\n2. Action items with priorities\n3. Brief overall assessment\n\n" +
		"Format as JSON with keys: highlights, action_items, assessment"

	content, model, err := c.complete(ctx, prompt, false)
	if err != nil {
		return Summary{}, err
	}
	summary, err := ParseSummary(content)
	if err != nil {
		summary = Summary{
			Highlights:  []string{clients.Truncate(content, 200)},
			ActionItems: []string{"Review generated summary"},
			Assessment:  "AI generated summary (non-JSON response)",
		}
	}
	summary.Model = model
	return summary, nil
}

// ParseSummary decodes a summary reply, tolerating code fences and action
// items given as objects.
func ParseSummary(content string) (Summary, error) {
	var raw struct {
		Highlights  flexList `json:"highlights"`
		ActionItems flexList `json:"action_items"`
		Assessment  string   `json:"assessment"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return Summary{
		Highlights:  nonNil(raw.Highlights),
		ActionItems: nonNil(raw.ActionItems),
		Assessment:  strings.TrimSpace(raw.Assessment),
	}, nil
}

type Classification struct {
	Item     string   `json:"item"`
	Priority string   `json:"priority"`
	Labels   []string `json:"labels"`
}

// Classify assigns a priority (high, medium, low) and labels to each action
// item. Items the model skips default to medium with no labels.
func (c *Client) Classify(ctx context.Context, items []string) ([]Classification, error) {
	if len(items) == 0 {
		return []Classification{}, nil
	}
	blob, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	prompt := "Classify each action item by priority (high, medium or low) and up to three short labels.\n\n" +
		"Action items (JSON array):\n" + string(blob) + "\n\n" +
		`Respond with JSON: {"items": [{"item": "...", "priority": "...", "labels": ["..."]}]}`

	content, _, err := c.complete(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Items []Classification `json:"items"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &reply); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	byItem := make(map[string]Classification, len(reply.Items))
	for _, cl := range reply.Items {
		byItem[strings.TrimSpace(cl.Item)] = cl
	}
	out := make([]Classification, 0, len(items))
	for _, item := range items {
		cl, ok := byItem[strings.TrimSpace(item)]
		if !ok {
			cl = Classification{}
		}
		cl.Item = item
		cl.Priority = normalizePriority(cl.Priority)
		if cl.Labels == nil {
			cl.Labels = []string{}
		}
		out = append(out, cl)
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string, jsonMode bool) (string, string, error) {
	in := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if jsonMode {
		in.ResponseFormat = map[string]string{"type": "json_object"}
	}
	req, err := clients.NewJSONRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", in)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	var out chatResponse
	if err := clients.Do(c.http, service, req, &out); err != nil {
		return "", "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return "", "", errors.New("openai returned empty response")
	}
	content := strings.TrimSpace(*out.Choices[0].Message.Content)
	if content == "" {
		return "", "", errors.New("openai returned empty response")
	}
	return content, out.Model, nil
}

// flexList decodes a string, a list of strings, or a list of objects whose
// first text field is taken.
type flexList []string

var itemKeys = []string{"item", "task", "title", "action", "description", "text"}

func (l *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = flexList{single}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(flexList, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return err
		}
		for _, key := range itemKeys {
			if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				break
			}
		}
	}
	*l = out
	return nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high", "urgent", "p0", "p1":
		return "high"
	case "low", "p3":
		return "low"
	default:
		return "medium"
	}
}

func nonNil(l flexList) []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}
