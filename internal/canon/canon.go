// Package canon gives web resources a stable identity: a canonical URL string
// and a SHA-256 cache key derived from it.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that never change the resource served.
var trackingParams = map[string]bool{
	"fbclid":       true,
	"gclid":        true,
	"msclkid":      true,
	"ref":          true,
	"affiliate_id": true,
	"partner_id":   true,
}

const trackingPrefix = "utm_"

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// InvalidURLError reports input whose scheme or host cannot be parsed.
type InvalidURLError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canon: invalid url %q: %s: %v", e.Raw, e.Reason, e.Err)
	}
	return fmt.Sprintf("canon: invalid url %q: %s", e.Raw, e.Reason)
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// Canonicalize normalizes raw into the canonical form used for cache identity.
// Tracking parameters are dropped, the remaining query is sorted, the scheme
// defaults to https and trailing path slashes are removed.
func Canonicalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", &InvalidURLError{Raw: raw, Reason: "empty"}
	}

	switch {
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case !strings.Contains(s, "://"):
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", &InvalidURLError{Raw: raw, Reason: "parse", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &InvalidURLError{Raw: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	host := u.Hostname()
	if host == "" {
		return "", &InvalidURLError{Raw: raw, Reason: "missing host"}
	}
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		// IPv6 literal without a port.
		host = "[" + host + "]"
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if q := encodeQuery(u.Query()); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

// encodeQuery serializes params without tracking keys, sorted by key then value.
func encodeQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if trackingParams[k] || strings.HasPrefix(k, trackingPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// DeriveKey returns the hex SHA-256 of a canonical URL.
func DeriveKey(canonical string) string {
	h := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(h[:])
}

// KeyFor canonicalizes raw and derives its key in one step.
func KeyFor(raw string) (canonical, key string, err error) {
	canonical, err = Canonicalize(raw)
	if err != nil {
		return "", "", err
	}
	return canonical, DeriveKey(canonical), nil
}
