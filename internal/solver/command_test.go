package solver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// helperCommand re-executes the test binary so TestHelperProcess can
// play the solver side of the stdio protocol.
func helperCommand(mode string) *Command {
	return &Command{
		Container: "test-harness:1",
		Path:      os.Args[0],
		Args:      []string{"-test.run=TestHelperProcess", "--", mode},
		Env:       []string{"SOLVER_HELPER_PROCESS=1"},
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("SOLVER_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := ""
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) > 0 {
		mode = args[0]
	}

	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	switch mode {
	case "echo":
		vals := make(map[string][]float64, len(req.Outputs))
		for _, out := range req.Outputs {
			tensor := make([]float64, out.GridSize())
			for i := range tensor {
				tensor[i] = req.Point[0] * float64(i+1)
			}
			vals[out.Name] = tensor
		}
		enc.Encode(wireResult{Values: vals})
	case "permanent":
		enc.Encode(wireResult{Error: &wireError{Kind: "permanent", Message: "point is unphysical"}})
	case "transient":
		enc.Encode(wireResult{Error: &wireError{Kind: "transient", Message: "license server unreachable"}})
	case "garbage":
		fmt.Fprintln(os.Stdout, "Segmentation fault (core dumped)")
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: out of memory")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
	}
}

func testRequest() Request {
	return Request{
		Container: "test-harness:1",
		Names:     []string{"Omega_b"},
		Point:     []float64{0.02},
		Outputs:   testOutputs(),
	}
}

func TestCommand_Run(t *testing.T) {
	res, err := helperCommand("echo").Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Validate(testOutputs()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	vals := res.Values["linear_matter_power"]
	if vals[0] != 0.02 || vals[7] != 0.02*8 {
		t.Errorf("values = %v", vals)
	}
}

func TestCommand_PermanentFailure(t *testing.T) {
	_, err := helperCommand("permanent").Run(context.Background(), testRequest())
	var perr *PermanentError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PermanentError", err)
	}
	if perr.Reason != "point is unphysical" {
		t.Errorf("reason = %q", perr.Reason)
	}
}

func TestCommand_TransientFailures(t *testing.T) {
	for _, mode := range []string{"transient", "garbage", "crash"} {
		t.Run(mode, func(t *testing.T) {
			_, err := helperCommand(mode).Run(context.Background(), testRequest())
			if !IsTransient(err) {
				t.Errorf("error = %v, want transient", err)
			}
		})
	}
}

func TestCommand_Timeout(t *testing.T) {
	cmd := helperCommand("hang")
	cmd.Timeout = 100 * time.Millisecond
	start := time.Now()
	_, err := cmd.Run(context.Background(), testRequest())
	if !IsTransient(err) {
		t.Fatalf("error = %v, want transient", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestCommand_Fingerprint(t *testing.T) {
	a := helperCommand("echo")
	b := helperCommand("echo")
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical commands produced different fingerprints")
	}

	c := helperCommand("echo")
	c.Container = "test-harness:2"
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("container change did not change the fingerprint")
	}
}
