package publishers

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadRegistryEnabledFilter(t *testing.T) {
	path := writeFile(t, "publishers.yaml", `
publishers:
  - id: http1
    type: http
    enabled: false
    http:
      url: https://example.com
  - id: http2
    type: http
    enabled: true
    http:
      url: https://example.com/2
`)

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "http2" {
		t.Fatalf("expected only http2 enabled, got %#v", enabled)
	}
	if enabled[0].HTTP.Method != "POST" || enabled[0].HTTP.Format != FormatJSON {
		t.Fatalf("expected http defaults, got %#v", enabled[0].HTTP)
	}
}

func TestLoadRegistryExpandsEnvironment(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("REPORT_AWS_KEY", "AKIA1")
	t.Setenv("REPORT_AWS_SECRET", "s3cr3t")
	path := writeFile(t, "publishers.yaml", `
publishers:
  - id: slack
    type: http
    http:
      url: https://slack.com/api/chat.postMessage
      format: slack
      channel: C1
      headers:
        Authorization: Bearer ${SLACK_BOT_TOKEN}
  - id: alerts
    type: sns
    sns:
      topic_arn: arn:aws:sns:ap-southeast-1:123:alerts
      region: ap-southeast-1
      access_key_id: ${REPORT_AWS_KEY}
      secret_access_key: ${REPORT_AWS_SECRET}
`)

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	slack, ok := reg.ByID("slack")
	if !ok || slack.HTTP.Headers["Authorization"] != "Bearer xoxb-1" {
		t.Fatalf("header not expanded: %#v", slack.HTTP)
	}
	alerts, _ := reg.ByID("alerts")
	if alerts.SNS.AccessKeyID != "AKIA1" || alerts.SNS.SecretAccessKey != "s3cr3t" {
		t.Fatalf("credentials not expanded: %#v", alerts.SNS)
	}
}

func TestLoadRegistryAllowsEmptyList(t *testing.T) {
	reg, err := LoadRegistry(writeFile(t, "publishers.json", `{"publishers": []}`))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Enabled()) != 0 {
		t.Fatalf("expected no publishers")
	}
}

func TestLoadRegistryRejectsDuplicates(t *testing.T) {
	path := writeFile(t, "publishers.yaml", `
publishers:
  - id: a
    type: http
    http:
      url: https://example.com
  - id: a
    type: http
    http:
      url: https://example.com
`)
	if _, err := LoadRegistry(path); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestValidatePublisherConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  PublisherConfig
	}{
		{"missing http block", PublisherConfig{ID: "h1", Type: TypeHTTP}},
		{"bad format", PublisherConfig{ID: "h1", Type: TypeHTTP, HTTP: &HTTPPublisherConfig{URL: "https://x", Format: "xml"}}},
		{"sqs without region", PublisherConfig{ID: "q", Type: TypeSQS, SQS: &SQSPublisherConfig{QueueURL: "https://q"}}},
		{"sns half credentials", PublisherConfig{ID: "s", Type: TypeSNS, SNS: &SNSPublisherConfig{
			TopicARN: "arn", Region: "us-east-1", AWSCredentials: AWSCredentials{AccessKeyID: "AKIA"},
		}}},
		{"pubsub without topic", PublisherConfig{ID: "p", Type: TypePubSub, PubSub: &PubSubPublisherConfig{ProjectID: "proj"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validatePublisherConfig(sanitizePublisherConfig(tc.cfg)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
