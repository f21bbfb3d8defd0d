package sources

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
)

// Session supplies authentication material for requests to a source. Logging in is handled
// elsewhere; a session only replays what a previous login stored.
type Session interface {
	Headers(src Source, rawURL string) map[string]string
}

// Cookie is one stored browser cookie.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// CookieSession replays cookies exported by a browser login, plus raw cookie headers taken
// from environment variables named in the source config (cookie_env).
type CookieSession struct {
	cookies []Cookie
	getenv  func(string) string
}

// NewCookieSession builds a session from already loaded cookies.
func NewCookieSession(cookies []Cookie) *CookieSession {
	return &CookieSession{cookies: cookies, getenv: os.Getenv}
}

// LoadCookieSession reads a cookie file: either a bare JSON array of cookies or a browser
// storage-state object with a "cookies" array. An empty path yields an env-only session.
func LoadCookieSession(path string) (*CookieSession, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewCookieSession(nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		var state struct {
			Cookies []Cookie `json:"cookies"`
		}
		if err2 := json.Unmarshal(raw, &state); err2 != nil {
			return nil, fmt.Errorf("decode cookies file: %w", err)
		}
		cookies = state.Cookies
	}
	return NewCookieSession(cookies), nil
}

// Headers returns a Cookie header for rawURL's host, if any cookie applies.
func (s *CookieSession) Headers(src Source, rawURL string) map[string]string {
	if s == nil {
		return nil
	}

	var parts []string
	if env := ConfigString(src, ConfigCookieEnvKey, ""); env != "" && s.getenv != nil {
		if v := strings.TrimSpace(s.getenv(env)); v != "" {
			parts = append(parts, v)
		}
	}

	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	matched := make([]string, 0, len(s.cookies))
	for _, c := range s.cookies {
		if c.Name == "" || !domainMatches(host, c.Domain) {
			continue
		}
		matched = append(matched, c.Name+"="+c.Value)
	}
	sort.Strings(matched)
	parts = append(parts, matched...)

	if len(parts) == 0 {
		return nil
	}
	return map[string]string{"Cookie": strings.Join(parts, "; ")}
}

func domainMatches(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
