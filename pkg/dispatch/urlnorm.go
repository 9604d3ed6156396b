package dispatch

import (
	"net/url"
	"strings"
)

// NormalizeURL validates and canonicalizes a fetch target: scheme
// required, host lowercased, and youtu.be short links rewritten to
// their canonical watch URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidParams("url must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidParams("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalidParams("url must include an http or https scheme")
	}
	if u.Host == "" {
		return "", invalidParams("url must include a host")
	}

	u.Host = strings.ToLower(u.Host)

	if u.Host == "youtu.be" {
		id := strings.Trim(u.Path, "/")
		if id != "" {
			u.Host = "youtube.com"
			u.Path = "/watch"
			q := u.Query()
			q.Set("v", id)
			u.RawQuery = q.Encode()
		}
	}

	return u.String(), nil
}
