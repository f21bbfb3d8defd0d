package sources

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigString returns the trimmed string value for key from source.Config or a fallback.
// Numbers are accepted too, since YAML decodes bare shop ids as ints.
func ConfigString(src Source, key, fallback string) string {
	if src.Config != nil {
		if raw, ok := src.Config[key]; ok && raw != nil {
			var val string
			switch v := raw.(type) {
			case string:
				val = v
			case int:
				val = strconv.Itoa(v)
			case int64:
				val = strconv.FormatInt(v, 10)
			case float64:
				val = strconv.FormatFloat(v, 'f', -1, 64)
			default:
				val = fmt.Sprint(v)
			}
			if trimmed := strings.TrimSpace(val); trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
	ConfigCacheControlKey   = "cache_control"
	ConfigRefererKey        = "referer"

	ConfigCountryKey     = "country"
	ConfigShopIDKey      = "shop_id"
	ConfigUserIDKey      = "user_id"
	ConfigProductIDKey   = "product_id"
	ConfigProductNameKey = "product_name"
	ConfigASINKey        = "asin"
	ConfigCookieEnvKey   = "cookie_env"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Headers builds the common request headers from a source config (skips empty values).
func Headers(src Source) map[string]string {
	headers := make(map[string]string, 5)

	headers["User-Agent"] = ConfigString(src, ConfigUserAgentKey, defaultUserAgent)
	if v := ConfigString(src, ConfigAcceptKey, ""); v != "" {
		headers["Accept"] = v
	}
	if v := ConfigString(src, ConfigAcceptLanguageKey, ""); v != "" {
		headers["Accept-Language"] = v
	}
	if v := ConfigString(src, ConfigCacheControlKey, ""); v != "" {
		headers["Cache-Control"] = v
	}
	if v := ConfigString(src, ConfigRefererKey, ""); v != "" {
		headers["Referer"] = v
	}

	return headers
}
