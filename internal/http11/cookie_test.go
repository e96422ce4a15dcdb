package http11

import (
	"testing"
	"time"
)

func TestCookieJarParseSetCookieAndRetrieve(t *testing.T) {
	j := NewCookieJar()
	if err := j.ParseSetCookie("session=abc123; Path=/; HttpOnly"); err != nil {
		t.Fatalf("ParseSetCookie: %v", err)
	}
	v, ok := j.Get("session")
	if !ok || v != "abc123" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
}

func TestCookieJarAddReplacesSameIdentity(t *testing.T) {
	j := NewCookieJar()
	j.Add(Cookie{Key: "k", Value: "v1", Path: "/", Domain: "example.com"})
	j.Add(Cookie{Key: "k", Value: "v2", Path: "/", Domain: "example.com"})
	if j.Len() != 1 {
		t.Fatalf("expected 1 cookie, got %d", j.Len())
	}
	v, _ := j.Get("k")
	if v != "v2" {
		t.Fatalf("expected updated value v2, got %q", v)
	}
}

func TestCookiesForOrdersMostSpecificPathFirst(t *testing.T) {
	j := NewCookieJar()
	j.Add(Cookie{Key: "a", Value: "1", Path: "/"})
	j.Add(Cookie{Key: "b", Value: "2", Path: "/videos"})

	got := j.CookiesFor("/videos/show")
	want := "b=2; a=1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCookieIsRelevantExpiry(t *testing.T) {
	c := Cookie{Key: "k", Value: "v", Path: "/", Expires: time.Now().Add(-time.Hour)}
	if c.IsRelevant("/", time.Now()) {
		t.Fatal("expected expired cookie to be irrelevant")
	}
}

func TestCookieIsRelevantPathPrefix(t *testing.T) {
	c := Cookie{Key: "k", Value: "v", Path: "/videos"}
	if !c.IsRelevant("/videos/123", time.Now()) {
		t.Fatal("expected cookie to match path prefix")
	}
	if c.IsRelevant("/other", time.Now()) {
		t.Fatal("expected cookie not to match unrelated path")
	}
}
