package session

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ashgrove/rtmp-publish/internal/errors"
)

// Target is the parsed, dial-ready form of a rtmp(s):// publish URL.
type Target struct {
	TLS       bool
	Host      string
	Port      string
	App       string // first path segment, the application name (e.g. "live2")
	StreamKey string // remaining path (+ query string reattached), the stream key/path
	TcURL     string // scheme://host[:port]/app, as sent in the connect command object
	RawURL    string
}

// ParseURL parses a publish destination of the form
// rtmp[s]://host[:port]/app/streamKey[?query] into a Target. The app is
// taken to be the first path segment; everything after it (including any
// further slashes and the query string) is the stream key, matching how
// FMLE-style encoders split tcUrl from stream name.
func ParseURL(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("parse %q: %w", raw, err))
	}
	var tls bool
	switch u.Scheme {
	case "rtmp":
		tls = false
	case "rtmps":
		tls = true
	default:
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("unsupported scheme %q (want rtmp or rtmps)", u.Scheme))
	}
	if u.Host == "" {
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("missing host in %q", raw))
	}

	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("missing app/stream path in %q", raw))
	}
	segs := strings.SplitN(path, "/", 2)
	app := segs[0]
	streamKey := ""
	if len(segs) == 2 {
		streamKey = segs[1]
	}
	if u.RawQuery != "" {
		streamKey += "?" + u.RawQuery
	}
	if app == "" {
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("empty app segment in %q", raw))
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if tls {
			port = "443"
		} else {
			port = "1935"
		}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, errors.NewArgumentError("session.parse_url", fmt.Errorf("invalid port %q: %w", port, err))
	}

	tcURL := fmt.Sprintf("%s://%s:%s/%s", u.Scheme, host, port, app)
	return &Target{
		TLS:       tls,
		Host:      host,
		Port:      port,
		App:       app,
		StreamKey: streamKey,
		TcURL:     tcURL,
		RawURL:    raw,
	}, nil
}
