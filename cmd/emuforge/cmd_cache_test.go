package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestCacheCmd(t *testing.T) {
	dir, _ := buildWorkspace(t)

	var dbPath string

	t.Run("stats after build", func(t *testing.T) {
		out, err := runCmd(t, newCacheCmd(), "cache", "stats", "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("stats failed: %v\noutput: %s", err, out)
		}
		result := decodeJSON(t, out)
		if result["backend"] != "sqlite" {
			t.Errorf("backend = %v", result["backend"])
		}
		if result["entries"] != float64(64) {
			t.Errorf("entries = %v, want 64", result["entries"])
		}
		dbPath, _ = result["location"].(string)
		if !strings.HasPrefix(dbPath, dir) {
			t.Errorf("location = %q, want under %q", dbPath, dir)
		}
	})

	t.Run("clear", func(t *testing.T) {
		out, err := runCmd(t, newCacheCmd(), "cache", "clear", "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("clear failed: %v\noutput: %s", err, out)
		}
		result := decodeJSON(t, out)
		if result["status"] != "cleared" {
			t.Errorf("status = %v", result["status"])
		}
		if result["entries"] != float64(64) {
			t.Errorf("entries = %v, want 64", result["entries"])
		}
		if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
			t.Errorf("cache db still present after clear: %v", err)
		}
	})

	t.Run("stats after clear", func(t *testing.T) {
		out, err := runCmd(t, newCacheCmd(), "cache", "stats", "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("stats failed: %v\noutput: %s", err, out)
		}
		if result := decodeJSON(t, out); result["entries"] != float64(0) {
			t.Errorf("entries = %v, want 0", result["entries"])
		}
	})

	t.Run("clear when already empty", func(t *testing.T) {
		os.Remove(dbPath)
		out, err := runCmd(t, newCacheCmd(), "cache", "clear", "--dir", dir)
		if err != nil {
			t.Fatalf("clear failed: %v\noutput: %s", err, out)
		}
		if !strings.Contains(out, "Cache is already empty.") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("prompt declined", func(t *testing.T) {
		// Recreate an empty db so there is something to decline over.
		if _, err := runCmd(t, newCacheCmd(), "cache", "stats", "--dir", dir); err != nil {
			t.Fatalf("stats failed: %v", err)
		}

		root := newTestRootCmd()
		root.AddCommand(newCacheCmd())
		root.SetArgs([]string{"cache", "clear", "--dir", dir})
		root.SetIn(strings.NewReader("n\n"))
		buf := &bytes.Buffer{}
		root.SetOut(buf)
		root.SetErr(buf)
		if err := root.Execute(); err != nil {
			t.Fatalf("clear failed: %v\noutput: %s", err, buf.String())
		}
		if !strings.Contains(buf.String(), "Cancelled.") {
			t.Errorf("output = %q, want Cancelled", buf.String())
		}
		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("declined clear removed the db: %v", err)
		}
	})

	t.Run("redis backend refused", func(t *testing.T) {
		t.Setenv("EMUFORGE_CACHE_BACKEND", "redis")
		t.Setenv("EMUFORGE_REDIS_ADDR", "localhost:6379")
		_, err := runCmd(t, newCacheCmd(), "cache", "clear", "--dir", dir, "--json")
		if err == nil || !strings.Contains(err.Error(), "only supports the sqlite backend") {
			t.Errorf("err = %v, want sqlite-only refusal", err)
		}
	})
}
