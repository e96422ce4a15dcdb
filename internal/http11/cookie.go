package http11

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cookie is one entry in a CookieJar. Grounded on atavism's Cookie class
// (http11/cookies.py).
type Cookie struct {
	Path     string
	Key      string
	Value    string
	Domain   string
	Expires  time.Time // zero value means no expiry
	MaxAge   string
	Secure   bool
	HTTPOnly bool
}

// sameIdentity reports whether two cookies refer to the same (path, key,
// domain) triple, matching atavism's Cookie.__eq__ — used by the jar to
// decide whether a Set-Cookie updates an existing entry or adds a new one.
func (c Cookie) sameIdentity(o Cookie) bool {
	return c.Path == o.Path && c.Key == o.Key && c.Domain == o.Domain
}

// AsHeader renders "key=value", the form used in an outbound Cookie:
// header.
func (c Cookie) AsHeader() string {
	return fmt.Sprintf("%s=%s", c.Key, c.Value)
}

// IsRelevant reports whether the cookie is unexpired and applies to path.
func (c Cookie) IsRelevant(path string, now time.Time) bool {
	if !c.Expires.IsZero() && c.Expires.Before(now) {
		return false
	}
	if path == "" {
		return false
	}
	if c.Path == "" || path == "/" {
		return true
	}
	if len(path) >= len(c.Path) && strings.EqualFold(path[:len(c.Path)], c.Path) {
		return true
	}
	return false
}

// CookieJar tracks cookies seen via Set-Cookie response headers and
// renders the ones relevant to a given request path.
type CookieJar struct {
	cookies []Cookie
}

// NewCookieJar returns an empty jar.
func NewCookieJar() *CookieJar { return &CookieJar{} }

// Len reports how many cookies are stored.
func (j *CookieJar) Len() int { return len(j.cookies) }

// Add inserts c, replacing any existing cookie with the same identity
// (path, key, domain) rather than duplicating it.
func (j *CookieJar) Add(c Cookie) {
	for i := range j.cookies {
		if j.cookies[i].sameIdentity(c) {
			j.cookies[i].Value = c.Value
			return
		}
	}
	j.cookies = append(j.cookies, c)
}

// Get returns a cookie's value by key, or "" if absent.
func (j *CookieJar) Get(key string) (string, bool) {
	for _, c := range j.cookies {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// ParseSetCookie parses one Set-Cookie header value and adds it to the
// jar. Grounded on atavism's CookieJar.parse_set_cookie.
func (j *CookieJar) ParseSetCookie(header string) error {
	if !strings.Contains(header, "=") {
		return nil
	}
	parts := splitTrim(header, ";", -1)
	kv := splitTrim(parts[0], "=", 2)
	if len(kv) != 2 {
		return fmt.Errorf("http11: malformed Set-Cookie %q", header)
	}
	c := Cookie{Key: kv[0], Value: kv[1]}

	for _, p := range parts[1:] {
		if strings.EqualFold(p, "HttpOnly") {
			c.HTTPOnly = true
			continue
		}
		attr := splitTrim(p, "=", 2)
		if len(attr) != 2 {
			continue
		}
		switch strings.ToLower(attr[0]) {
		case "expires":
			t, err := time.Parse("Mon, 02-Jan-2006 15:04:05 MST", attr[1])
			if err == nil {
				c.Expires = t
			}
		case "path":
			c.Path = attr[1]
		case "domain":
			c.Domain = attr[1]
		case "max-age":
			c.MaxAge = attr[1]
		case "secure":
			c.Secure = true
		}
	}
	j.Add(c)
	return nil
}

func splitTrim(s, sep string, n int) []string {
	parts := strings.SplitN(s, sep, n)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// CheckSetCookies scans a response's Set-Cookie header values (there may
// be more than one) and folds each into the jar.
func (j *CookieJar) CheckSetCookies(values []string) error {
	for _, v := range values {
		if err := j.ParseSetCookie(v); err != nil {
			return err
		}
	}
	return nil
}

// CookiesFor renders the Cookie: header value applicable to path, or ""
// if no cookie matches. Cookies are ordered by path length, longest
// (most specific) first, as RFC 6265 §5.4 recommends; cookies with equal
// path lengths are ordered by key.
func (j *CookieJar) CookiesFor(path string) string {
	now := time.Now().UTC()
	var matched []Cookie
	for _, c := range j.cookies {
		if c.IsRelevant(path, now) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return ""
	}
	sort.Slice(matched, func(i, k int) bool {
		if len(matched[i].Path) == len(matched[k].Path) {
			return matched[i].Key < matched[k].Key
		}
		return len(matched[i].Path) > len(matched[k].Path)
	})
	parts := make([]string, len(matched))
	for i, c := range matched {
		parts[i] = c.AsHeader()
	}
	return strings.Join(parts, "; ")
}
