package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCookieSessionStorageState(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cookies.json")
	content := `{"cookies":[
		{"name":"SPC_EC","value":"abc","domain":".shopee.sg"},
		{"name":"session-id","value":"123","domain":".amazon.com"},
		{"name":"SPC_ST","value":"def","domain":"shopee.sg"}
	]}`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	session, err := LoadCookieSession(file)
	if err != nil {
		t.Fatalf("LoadCookieSession: %v", err)
	}

	headers := session.Headers(Source{ID: "s"}, "https://seller.shopee.sg/api/v4/x")
	if headers["Cookie"] != "SPC_EC=abc; SPC_ST=def" {
		t.Fatalf("unexpected cookie header %q", headers["Cookie"])
	}
	if h := session.Headers(Source{ID: "s"}, "https://example.com"); h != nil {
		t.Fatalf("expected no headers for unrelated host, got %v", h)
	}
}

func TestCookieSessionEnvFallback(t *testing.T) {
	session := NewCookieSession(nil)
	session.getenv = func(key string) string {
		if key == "AMAZON_COOKIE" {
			return "session-token=xyz"
		}
		return ""
	}

	src := Source{ID: "a", Config: map[string]any{ConfigCookieEnvKey: "AMAZON_COOKIE"}}
	if got := session.Headers(src, "https://www.amazon.com/")["Cookie"]; got != "session-token=xyz" {
		t.Fatalf("unexpected cookie %q", got)
	}
}

func TestLoadCookieSessionEmptyPath(t *testing.T) {
	session, err := LoadCookieSession("  ")
	if err != nil || session == nil {
		t.Fatalf("expected env-only session, got %v %v", session, err)
	}
}
