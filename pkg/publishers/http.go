package publishers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samvad-hq/review-harvester/internal/logger"
	"github.com/samvad-hq/review-harvester/pkg/httpclient"
)

type httpPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	format  string
	channel string
	client  *resty.Client
	typ     string
	log     logger.Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log logger.Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}

	client := httpclient.NewRestyHTTPClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second)

	format := cfg.HTTP.Format
	if format == "" {
		format = FormatJSON
	}
	method := cfg.HTTP.Method
	if method == "" {
		method = httpDefaultMethod
	}

	return &httpPublisher{
		id:      cfg.ID,
		typ:     TypeHTTP,
		method:  method,
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		format:  format,
		channel: cfg.HTTP.Channel,
		client:  client,
		log:     logger.Ensure(log),
	}, nil
}

func (h *httpPublisher) ID() string   { return h.id }
func (h *httpPublisher) Type() string { return h.typ }

func (h *httpPublisher) Publish(ctx context.Context, evt Event) error {
	var body any = evt
	if h.format == FormatSlack {
		body = slackMessage(evt, h.channel)
	}

	req := h.client.R().
		SetContext(ctx).
		SetBody(body)

	if len(h.headers) > 0 {
		req.SetHeaders(h.headers)
	}

	req.SetHeader("Content-Type", "application/json")

	resp, err := req.Execute(h.method, h.url)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if resp.IsError() {
		snippet := readBodySnippet(resp.Body())
		return fmt.Errorf("http response status %d: %s", resp.StatusCode(), snippet)
	}
	if h.format == FormatSlack {
		if err := slackAPIError(resp.Body()); err != nil {
			return err
		}
	}
	h.log.DebugObj("http publisher delivered run report", "publisher_http_delivery", map[string]any{
		"publisher_id": h.id,
		"status":       resp.StatusCode(),
	})
	return nil
}

// slackAPIError reports {"ok":false} answers from the Web API. Incoming webhooks answer
// with plain text and are accepted on any 2xx.
func slackAPIError(body []byte) error {
	var res struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.OK == nil || *res.OK {
		return nil
	}
	return fmt.Errorf("slack api error: %s", res.Error)
}

// slackMessage renders the run report as a Slack message with blocks.
func slackMessage(evt Event, channel string) map[string]any {
	success, partial, failed := evt.count("success"), evt.count("partial"), evt.count("failed")
	date := evt.StartedAt.Format("2006-01-02")

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type":  "plain_text",
				"text":  fmt.Sprintf("%s %s review report", statusIcon(evt.Status), evt.App),
				"emoji": true,
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": "*Date:*\n" + date},
				{"type": "mrkdwn", "text": fmt.Sprintf("*New reviews:*\n%d", evt.Uploaded)},
				{"type": "mrkdwn", "text": "*Elapsed:*\n" + formatElapsed(evt.ElapsedSeconds)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Result:*\n✅%d ⚠️%d ❌%d", success, partial, failed)},
			},
		},
		{"type": "divider"},
	}
	for _, src := range evt.Sources {
		name := src.Name
		if name == "" {
			name = src.ID
		}
		line := fmt.Sprintf("%s *%s*\nReviews: %d", statusIcon(src.Status), name, src.Uploaded)
		if src.SkippedPages > 0 {
			line += fmt.Sprintf(", skipped pages: %d", src.SkippedPages)
		}
		if src.Error != "" {
			line += fmt.Sprintf(" (%s)", src.Error)
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": line},
		})
	}

	msg := map[string]any{
		"text":   fmt.Sprintf("%s review report - %s: %d new reviews", evt.App, date, evt.Uploaded),
		"blocks": blocks,
	}
	if channel != "" {
		msg["channel"] = channel
	}
	return msg
}

func statusIcon(status string) string {
	switch status {
	case "success":
		return "✅"
	case "partial":
		return "⚠️"
	default:
		return "❌"
	}
}

func formatElapsed(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func readBodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
