package sources

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/samvad-hq/review-harvester/internal/domain"
)

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

// classifyStatus maps a non-200 status to the fetch error taxonomy.
func classifyStatus(sourceID string, status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s returned status %d: %w", sourceID, status, domain.ErrAuthentication)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%s returned status %d body: %s: %w", sourceID, status, responseSnippet(body), domain.ErrTransientFetch)
	default:
		return fmt.Errorf("%s returned status %d body: %s", sourceID, status, responseSnippet(body))
	}
}

func mergeHeaders(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if strings.TrimSpace(v) != "" {
			dst[k] = v
		}
	}
	return dst
}
