package ingest

import (
	"net/url"
	"strings"
)

// ExtractVideoID pulls the video id out of a YouTube watch, share, or
// shorts URL. Non-video URLs return ok=false and take the article path.
func ExtractVideoID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := parsed.Query().Get("v"); id != "" {
			return id, true
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if strings.HasPrefix(parsed.Path, prefix) {
				if id := strings.Trim(strings.TrimPrefix(parsed.Path, prefix), "/"); id != "" {
					return id, true
				}
			}
		}
	case "youtu.be":
		if id := strings.Trim(parsed.Path, "/"); id != "" {
			return id, true
		}
	}
	return "", false
}
