package secret

import (
	"path/filepath"
	"testing"
)

func TestCacheMissingFileReturnsEmptyMap(t *testing.T) {
	c := OpenCache(filepath.Join(t.TempDir(), "nonexistent.cache"))
	entries, err := c.Load("whatever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %v, want empty map", entries)
	}
}

func TestCacheSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sudo.cache")
	c := OpenCache(path)

	want := map[string]string{"node1": "hunter2", "node2": "swordfish"}
	if err := c.Save("unlock-pw", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := c.Load("unlock-pw")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) || got["node1"] != want["node1"] || got["node2"] != want["node2"] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCacheWrongUnlockPasswordFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sudo.cache")
	c := OpenCache(path)

	if err := c.Save("correct-pw", map[string]string{"node1": "hunter2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := c.Load("wrong-pw"); err == nil {
		t.Fatal("expected an error unlocking the cache with the wrong password")
	}
}
