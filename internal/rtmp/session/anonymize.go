package session

import (
	"fmt"
	"net/url"
	"strings"
)

// AnonymizeURL redacts the sensitive portions of a publish URL (stream keys,
// credentials) for safe inclusion in logs, matching the masking scheme used
// by the reference client for its own log output: each '/'-delimited path
// segment (and '&'-delimited query value) longer than 4 characters keeps its
// first two and last two characters and has everything in between replaced
// one-for-one with '*'; shorter segments are left untouched since there is no
// room to both reveal edges and hide a meaningful middle.
func AnonymizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("anonymize url: %w", err)
	}
	if u.Scheme != "rtmp" && u.Scheme != "rtmps" {
		return "", fmt.Errorf("anonymize url: unsupported scheme %q", u.Scheme)
	}

	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	for i, s := range segs {
		segs[i] = maskSegment(s)
	}
	maskedPath := "/" + strings.Join(segs, "/")

	out := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, maskedPath)
	if u.RawQuery != "" {
		pairs := strings.Split(u.RawQuery, "&")
		for i, kv := range pairs {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				pairs[i] = parts[0] + "=" + maskSegment(parts[1])
			}
		}
		out += "?" + strings.Join(pairs, "&")
	}
	return out, nil
}

// maskSegment applies the prefix2/stars/suffix2 mask to a single path or
// query-value segment.
func maskSegment(s string) string {
	if len(s) <= 4 {
		return s
	}
	stars := strings.Repeat("*", len(s)-4)
	return s[:2] + stars + s[len(s)-2:]
}
