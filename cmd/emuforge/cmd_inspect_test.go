package main

import (
	"strings"
	"testing"
)

func TestInspectCmd(t *testing.T) {
	dir, built := buildWorkspace(t)

	t.Run("by name", func(t *testing.T) {
		out, err := runCmd(t, newInspectCmd(), "inspect", "pk_smoke", "--dir", dir)
		if err != nil {
			t.Fatalf("inspect failed: %v\noutput: %s", err, out)
		}
		for _, want := range []string{
			"Emulator: pk_smoke",
			"Container: mock:1",
			"Model: polynomial (training: least_squares)",
			"Omega_b [0.01, 0.05]",
			"pk (grid 5)",
			"k [1, 9] 5 points, linear",
			"Held-out examples:",
			"Max rel error:",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("by name as json", func(t *testing.T) {
		out, err := runCmd(t, newInspectCmd(), "inspect", "pk_smoke", "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("inspect failed: %v\noutput: %s", err, out)
		}
		result := decodeJSON(t, out)
		if result["name"] != "pk_smoke" {
			t.Errorf("name = %v", result["name"])
		}
		if result["digest"] != built["digest"] {
			t.Errorf("digest = %v, want %v", result["digest"], built["digest"])
		}
		if result["model"] != "polynomial" {
			t.Errorf("model = %v", result["model"])
		}
		if result["training"] != "least_squares" {
			t.Errorf("training = %v", result["training"])
		}
	})

	t.Run("by artifact path", func(t *testing.T) {
		path, _ := built["path"].(string)
		out, err := runCmd(t, newInspectCmd(), "inspect", path, "--dir", dir, "--json")
		if err != nil {
			t.Fatalf("inspect failed: %v\noutput: %s", err, out)
		}
		if result := decodeJSON(t, out); result["digest"] != built["digest"] {
			t.Errorf("digest = %v, want %v", result["digest"], built["digest"])
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := runCmd(t, newInspectCmd(), "inspect", "nope", "--dir", dir)
		if err == nil || !strings.Contains(err.Error(), `no emulator named "nope"`) {
			t.Errorf("err = %v, want no emulator named", err)
		}
	})
}
