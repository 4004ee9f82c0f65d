// Package gcal lists Google Calendar events using a stored OAuth2 refresh
// token.
package gcal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/avidelta/nexus/internal/clients"
)

const (
	service       = "gcal"
	readonlyScope = "https://www.googleapis.com/auth/calendar.readonly"
	authURL       = "https://accounts.google.com/o/oauth2/auth"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" || strings.TrimSpace(c.RefreshToken) == "" {
		return fmt.Errorf("gcal: %w", clients.ErrNotConfigured)
	}
	return nil
}

type Client struct {
	baseURL    string
	calendarID string
	http       *http.Client
}

// New builds a client whose transport refreshes access tokens on demand.
// base, when non-nil, carries both the token exchange and the API calls.
func New(ctx context.Context, cfg Config, base *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	oauthCfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{readonlyScope},
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	httpClient := oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	calendarID := strings.TrimSpace(cfg.CalendarID)
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{baseURL: baseURL, calendarID: calendarID, http: httpClient}, nil
}

type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Link     string    `json:"link,omitempty"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type eventsResponse struct {
	Items []struct {
		ID       string    `json:"id"`
		Status   string    `json:"status"`
		Summary  string    `json:"summary"`
		Location string    `json:"location"`
		HTMLLink string    `json:"htmlLink"`
		Start    eventTime `json:"start"`
		End      eventTime `json:"end"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// Between lists confirmed single events starting in [from, to), ordered by
// start time.
func (c *Client) Between(ctx context.Context, from, to time.Time) ([]Event, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("gcal: empty time range")
	}
	events := make([]Event, 0)
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeMin", from.UTC().Format(time.RFC3339))
		q.Set("timeMax", to.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), q.Encode())
		req, err := clients.NewJSONRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var out eventsResponse
		if err := clients.Do(c.http, service, req, &out); err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			if item.Status == "cancelled" {
				continue
			}
			start, allDay, err := parseEventTime(item.Start)
			if err != nil {
				return nil, fmt.Errorf("event %s start: %w", item.ID, err)
			}
			end, _, err := parseEventTime(item.End)
			if err != nil {
				return nil, fmt.Errorf("event %s end: %w", item.ID, err)
			}
			events = append(events, Event{
				ID:       item.ID,
				Summary:  strings.TrimSpace(item.Summary),
				Location: item.Location,
				Start:    start,
				End:      end,
				AllDay:   allDay,
				Link:     item.HTMLLink,
			})
		}
		if out.NextPageToken == "" {
			break
		}
		pageToken = out.NextPageToken
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func parseEventTime(t eventTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		return parsed, false, err
	}
	if t.Date != "" {
		parsed, err := time.Parse(time.DateOnly, t.Date)
		return parsed, true, err
	}
	return time.Time{}, false, fmt.Errorf("missing time")
}
