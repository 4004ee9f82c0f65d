// Package github opens one repository issue per daily action item.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/avidelta/nexus/internal/clients"
)

const (
	service        = "github"
	apiVersion     = "2022-11-28"
	userAgent      = "nexus-daily-runner"
	maxTitleLength = 100
)

type Config struct {
	Token             string
	Repo              string
	BaseURL           string
	RequestsPerSecond float64
}

type Client struct {
	cfg     Config
	owner   string
	name    string
	limiter *rate.Limiter
	http    *http.Client
}

func New(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.Repo = strings.TrimSpace(cfg.Repo)
	if cfg.Token == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github: %w", clients.ErrNotConfigured)
	}
	owner, name, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github repo must be owner/name, got %q", cfg.Repo)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(0)
	}
	return &Client{
		cfg:     cfg,
		owner:   owner,
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
		http:    httpClient,
	}, nil
}

func (c *Client) Repo() string {
	return c.cfg.Repo
}

type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Labels []string `json:"labels"`
	Demo   bool     `json:"demo,omitempty"`
}

type apiIssue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	Labels  []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (i apiIssue) toIssue() Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.Name)
	}
	return Issue{Number: i.Number, Title: i.Title, URL: i.HTMLURL, Labels: labels}
}

// Create opens one issue. A nil labels slice is sent as an empty list.
func (c *Client) Create(ctx context.Context, title, body string, labels []string) (Issue, error) {
	if labels == nil {
		labels = []string{}
	}
	payload := map[string]any{
		"title":  clients.Truncate(strings.TrimSpace(title), maxTitleLength),
		"body":   body,
		"labels": labels,
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/issues", payload)
	if err != nil {
		return Issue{}, err
	}
	var out apiIssue
	if err := c.do(ctx, req, &out); err != nil {
		return Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return out.toIssue(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s%s", c.cfg.BaseURL, url.PathEscape(c.owner), url.PathEscape(c.name), path)
	req, err := clients.NewJSONRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("github rate limiter: %w", err)
	}
	return clients.Do(c.http, service, req, out)
}
