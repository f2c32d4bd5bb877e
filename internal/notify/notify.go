// Package notify sends a short alert summarizing a run's changelog
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fwextensions/sf-pools/internal/changelog"
)

const pushoverAPI = "https://api.pushover.net/1/messages.json"

// Message is what a notifier delivers
type Message struct {
	Title    string
	Message  string
	Priority int
	URL      string
	URLTitle string
}

// Notifier delivers messages
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// FromChangelog summarizes cl. link, if set, points at the published changelog.
func FromChangelog(cl changelog.Changelog, link string) Message {
	s := cl.Summary

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d added, %d removed, %d modified across %d facilities",
		s.ProgramsAdded, s.ProgramsRemoved, s.ProgramsModified, s.FacilitiesChanged)
	for _, c := range cl.Changes {
		fmt.Fprintf(&sb, "\n%s: +%d -%d ~%d", c.Name, c.ProgramsAdded, c.ProgramsRemoved, c.ProgramsModified)
	}
	for _, w := range cl.Warnings {
		fmt.Fprintf(&sb, "\nwarning: %s", w)
	}

	msg := Message{
		Title:   fmt.Sprintf("SF pools schedule update (%s)", cl.Severity),
		Message: sb.String(),
	}
	if cl.Severity.Large() {
		msg.Priority = 1
	}
	if link != "" {
		msg.URL = link
		msg.URLTitle = "View changelog"
	}
	return msg
}

// Pushover delivers messages through the Pushover API
type Pushover struct {
	token    string
	user     string
	endpoint string
	http     *http.Client
}

// NewPushover creates a Pushover notifier
func NewPushover(token, user string) (*Pushover, error) {
	if token == "" || user == "" {
		return nil, fmt.Errorf("PUSHOVER_TOKEN and PUSHOVER_USER must both be set")
	}
	return &Pushover{
		token:    token,
		user:     user,
		endpoint: pushoverAPI,
		http:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// WithEndpoint points the notifier at a different API URL
func (p *Pushover) WithEndpoint(endpoint string) *Pushover {
	p.endpoint = endpoint
	return p
}

// Notify posts msg
func (p *Pushover) Notify(ctx context.Context, msg Message) error {
	form := url.Values{
		"token":    {p.token},
		"user":     {p.user},
		"title":    {msg.Title},
		"message":  {msg.Message},
		"priority": {strconv.Itoa(msg.Priority)},
	}
	if msg.URL != "" {
		form.Set("url", msg.URL)
		form.Set("url_title", msg.URLTitle)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var result struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK || result.Status != 1 {
		if len(result.Errors) > 0 {
			return fmt.Errorf("pushover error (status %d): %s", resp.StatusCode, strings.Join(result.Errors, "; "))
		}
		return fmt.Errorf("pushover error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// LogNotifier writes messages to a logger when no push service is configured
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs msg
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	if msg.Priority > 0 {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, msg.Title, "message", msg.Message, "url", msg.URL)
	return nil
}
