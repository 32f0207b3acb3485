package radix

import (
	"net/netip"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	tr := New[string]()
	p := netip.MustParsePrefix("10.0.0.0/24")
	tr.Set(p, "a")
	v, ok := tr.Get(p)
	if !ok || v != "a" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if !tr.Delete(p) {
		t.Fatalf("Delete returned false")
	}
	if _, ok := tr.Get(p); ok {
		t.Fatalf("expected prefix to be gone after Delete")
	}
}

func TestMatchLongestPrefix(t *testing.T) {
	tr := New[string]()
	tr.Set(netip.MustParsePrefix("10.0.0.0/8"), "coarse")
	tr.Set(netip.MustParsePrefix("10.1.0.0/16"), "fine")

	_, v, ok := tr.Match(netip.MustParseAddr("10.1.2.3"))
	if !ok || v != "fine" {
		t.Fatalf("Match = %q, %v, want fine", v, ok)
	}
	_, v, ok = tr.Match(netip.MustParseAddr("10.2.2.3"))
	if !ok || v != "coarse" {
		t.Fatalf("Match = %q, %v, want coarse", v, ok)
	}
	_, _, ok = tr.Match(netip.MustParseAddr("192.168.0.1"))
	if ok {
		t.Fatalf("expected no match outside the trie")
	}
}

func TestWalk(t *testing.T) {
	tr := New[int]()
	tr.Set(netip.MustParsePrefix("10.0.0.0/8"), 1)
	tr.Set(netip.MustParsePrefix("10.1.0.0/16"), 2)
	tr.Set(netip.MustParsePrefix("172.16.0.0/12"), 3)

	seen := map[string]int{}
	tr.Walk(func(p netip.Prefix, v int) {
		seen[p.String()] = v
	})
	if len(seen) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(seen))
	}
}
