// Package notion reads recently edited pages from a database and appends
// the daily digest to a page.
package notion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/clients"
)

const (
	service       = "notion"
	apiVersion    = "2022-06-28"
	maxTextLength = 2000
	maxBlocks     = 100
)

type Config struct {
	Token   string
	BaseURL string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion: %w", clients.ErrNotConfigured)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.notion.com/v1"
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(0)
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

type Page struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type queryResponse struct {
	Results []struct {
		ID             string    `json:"id"`
		URL            string    `json:"url"`
		LastEditedTime time.Time `json:"last_edited_time"`
		Properties     map[string]struct {
			Type  string     `json:"type"`
			Title []richText `json:"title"`
		} `json:"properties"`
	} `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// EditedSince lists pages of databaseID edited on or after since, following
// pagination until limit pages are collected.
func (c *Client) EditedSince(ctx context.Context, databaseID string, since time.Time, limit int) ([]Page, error) {
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return nil, fmt.Errorf("notion database id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	pages := make([]Page, 0)
	cursor := ""
	for len(pages) < limit {
		body := map[string]any{
			"filter": map[string]any{
				"timestamp":        "last_edited_time",
				"last_edited_time": map[string]string{"on_or_after": since.UTC().Format(time.RFC3339)},
			},
			"sorts":     []map[string]string{{"timestamp": "last_edited_time", "direction": "descending"}},
			"page_size": min(limit-len(pages), 100),
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		req, err := c.newRequest(ctx, http.MethodPost, "/databases/"+url.PathEscape(databaseID)+"/query", body)
		if err != nil {
			return nil, err
		}
		var out queryResponse
		if err := clients.Do(c.http, service, req, &out); err != nil {
			return nil, err
		}
		for _, r := range out.Results {
			page := Page{ID: r.ID, URL: r.URL, LastEditedTime: r.LastEditedTime}
			for _, prop := range r.Properties {
				if prop.Type != "title" {
					continue
				}
				parts := make([]string, 0, len(prop.Title))
				for _, t := range prop.Title {
					parts = append(parts, t.PlainText)
				}
				page.Title = strings.TrimSpace(strings.Join(parts, ""))
				break
			}
			pages = append(pages, page)
		}
		if !out.HasMore || out.NextCursor == "" {
			break
		}
		cursor = out.NextCursor
	}
	if len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// AppendDigest appends a heading followed by one bulleted item per line to
// the page.
func (c *Client) AppendDigest(ctx context.Context, pageID, heading string, bullets []string) error {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return fmt.Errorf("notion page id is required")
	}
	children := make([]map[string]any, 0, len(bullets)+1)
	children = append(children, block("heading_2", heading))
	for _, bullet := range bullets {
		if strings.TrimSpace(bullet) == "" {
			continue
		}
		if len(children) == maxBlocks {
			break
		}
		children = append(children, block("bulleted_list_item", bullet))
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/blocks/"+url.PathEscape(pageID)+"/children", map[string]any{"children": children})
	if err != nil {
		return err
	}
	return clients.Do(c.http, service, req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	req, err := clients.NewJSONRequest(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", apiVersion)
	return req, nil
}

func block(kind, text string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   kind,
		kind: map[string]any{
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]string{"content": clients.Truncate(text, maxTextLength)}},
			},
		},
	}
}
