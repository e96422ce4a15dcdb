package discovery

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	dev := Device{
		InstanceName: "Living Room._googlecast._tcp.local.",
		Service:      "_googlecast._tcp.local.",
		Host:         "chromecast-abcd.local.",
		Port:         8009,
		Addrs:        []net.IP{net.IPv4(192, 168, 1, 50).To4()},
		TXT:          map[string]string{"id": "abcd1234"},
		LastSeen:     time.Now().Truncate(time.Second),
	}

	if err := cache.Put(dev); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := cache.Get(dev.InstanceName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected device to be found")
	}
	if got.Host != dev.Host || got.Port != dev.Port {
		t.Fatalf("got %#v", got)
	}
	if got.TXT["id"] != "abcd1234" {
		t.Fatalf("got TXT %#v", got.TXT)
	}
	if len(got.Addrs) != 1 || !got.Addrs[0].Equal(dev.Addrs[0]) {
		t.Fatalf("got addrs %#v", got.Addrs)
	}
}

func TestCacheGetMissingReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	_, ok, err := cache.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestCacheAllOrdersByRecency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	older := Device{InstanceName: "older", Service: "_x._tcp.local.", LastSeen: time.Now().Add(-time.Hour)}
	newer := Device{InstanceName: "newer", Service: "_x._tcp.local.", LastSeen: time.Now()}
	if err := cache.Put(older); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(newer); err != nil {
		t.Fatal(err)
	}

	all, err := cache.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d devices, want 2", len(all))
	}
	if all[0].InstanceName != "newer" || all[1].InstanceName != "older" {
		t.Fatalf("got order %s, %s", all[0].InstanceName, all[1].InstanceName)
	}
}

func TestCachePruneOlderThan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	old := Device{InstanceName: "stale", Service: "_x._tcp.local.", LastSeen: time.Now().Add(-time.Hour)}
	fresh := Device{InstanceName: "fresh", Service: "_x._tcp.local.", LastSeen: time.Now()}
	if err := cache.Put(old); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(fresh); err != nil {
		t.Fatal(err)
	}

	if err := cache.PruneOlderThan(time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}

	if _, ok, _ := cache.Get("stale"); ok {
		t.Fatal("expected stale entry pruned")
	}
	if _, ok, _ := cache.Get("fresh"); !ok {
		t.Fatal("expected fresh entry retained")
	}
}
