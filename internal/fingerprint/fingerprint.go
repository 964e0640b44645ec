// Package fingerprint computes the deterministic identities that key
// caching and reproducibility: canonical content digests and the host
// fingerprint recorded in accuracy reports.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"runtime"
	"sort"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Digest is a hex-encoded SHA-256 over canonical bytes.
type Digest string

// Short returns the first 12 hex characters, for display.
func (d Digest) Short() string {
	if len(d) < 12 {
		return string(d)
	}
	return string(d[:12])
}

func (d Digest) String() string { return string(d) }

// Valid reports whether d has the exact shape this package produces:
// 64 lowercase hex characters. Callers that turn externally supplied
// digests into file names must check this first.
func (d Digest) Valid() bool {
	if len(d) != sha256.Size*2 {
		return false
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Hasher accumulates length-prefixed fields into a SHA-256 digest.
//
// Every field is prefixed with its byte length so that adjacent fields
// can never be confused ("ab","c" hashes differently from "a","bc").
// Map-like data must be written in sorted key order by the caller;
// the helpers below do this for the common shapes.
type Hasher struct {
	h hash.Hash
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

// WriteField appends one length-prefixed byte field.
func (h *Hasher) WriteField(data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.h.Write(prefix[:])
	h.h.Write(data)
}

// WriteString appends a length-prefixed string field.
func (h *Hasher) WriteString(s string) {
	h.WriteField([]byte(s))
}

// WriteFloat appends a float64 by its IEEE-754 bit pattern, so that
// the digest is independent of any decimal formatting choice.
func (h *Hasher) WriteFloat(f float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	h.WriteField(buf[:])
}

// WriteInt appends an int64 field.
func (h *Hasher) WriteInt(v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.WriteField(buf[:])
}

// WriteStringMap appends a map of string pairs in sorted key order.
func (h *Hasher) WriteStringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h.WriteInt(int64(len(keys)))
	for _, k := range keys {
		h.WriteString(k)
		h.WriteString(m[k])
	}
}

// Sum finalizes the digest.
func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}

// OfBytes digests a single byte field.
func OfBytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// Host describes the machine a build ran on. It is recorded in reports
// for provenance; it is deliberately not part of any cache key, since
// solver outputs are keyed by the execution environment, not the host
// driving it.
type Host struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Runtime  string `json:"runtime"`
	CPU      string `json:"cpu"`
	Cores    int    `json:"cores"`
	VectorOp string `json:"vector_op,omitempty"`
}

// CurrentHost captures the running machine.
func CurrentHost() Host {
	h := Host{
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Runtime: runtime.Version(),
		CPU:     strings.TrimSpace(cpuid.CPU.BrandName),
		Cores:   cpuid.CPU.LogicalCores,
	}
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		h.VectorOp = "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		h.VectorOp = "avx2"
	case cpuid.CPU.Supports(cpuid.SSE4):
		h.VectorOp = "sse4"
	}
	return h
}

// String renders a compact single-line description.
func (h Host) String() string {
	return fmt.Sprintf("%s/%s %s (%d cores, %s)", h.OS, h.Arch, h.CPU, h.Cores, h.Runtime)
}
