package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emuforge/emuforge/internal/artifact"
)

func TestExportCmd(t *testing.T) {
	dir, built := buildWorkspace(t)

	t.Run("to directory", func(t *testing.T) {
		dest := t.TempDir()
		out, err := runCmd(t, newExportCmd(), "export", "pk_smoke", dest, "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("export failed: %v\noutput: %s", err, out)
		}
		result := decodeJSON(t, out)
		path, _ := result["path"].(string)
		if filepath.Dir(path) != dest {
			t.Errorf("path = %q, want file under %q", path, dest)
		}

		a, err := artifact.Open(path)
		if err != nil {
			t.Fatalf("exported artifact unreadable: %v", err)
		}
		if string(a.Digest) != built["digest"] {
			t.Errorf("digest = %s, want %v", a.Digest, built["digest"])
		}
	})

	t.Run("to explicit path", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "pk"+artifact.Ext)
		out, err := runCmd(t, newExportCmd(), "export", "pk_smoke", dest, "--dir", dir)
		if err != nil {
			t.Fatalf("export failed: %v\noutput: %s", err, out)
		}
		if !strings.Contains(out, "Exported pk_smoke") {
			t.Errorf("output = %q", out)
		}
		if _, err := os.Stat(dest); err != nil {
			t.Errorf("destination not written: %v", err)
		}
		if _, err := artifact.Open(dest); err != nil {
			t.Errorf("exported artifact unreadable: %v", err)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := runCmd(t, newExportCmd(), "export", "nope", t.TempDir(), "--dir", dir)
		if err == nil || !strings.Contains(err.Error(), `no emulator named "nope"`) {
			t.Errorf("err = %v, want no emulator named", err)
		}
	})
}
