package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/emuforge/emuforge/internal/spec"
)

// Weights travel in a fixed binary layout so that identical training
// always yields identical bytes: magic, format version, family name,
// then a family-specific payload. All integers are big-endian and all
// floats are IEEE 754 bit patterns.
var weightsMagic = [4]byte{'E', 'M', 'U', 'W'}

const weightsVersion uint16 = 1

// encoder appends primitive values to a buffer.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) f64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf.Write(b[:])
}

func (e *encoder) f64s(vs []float64) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.f64(v)
	}
}

// decoder reads the encoder's output back.
type decoder struct {
	r *bytes.Reader
}

func (d *decoder) u16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (d *decoder) u32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) f64() (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

func (d *decoder) f64s() ([]float64, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	vs := make([]float64, n)
	for i := range vs {
		if vs[i], err = d.f64(); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

// payloadCodec is implemented by each family to serialize its trained
// state.
type payloadCodec interface {
	encodePayload(e *encoder)
	decodePayload(d *decoder) error
}

// Encode serializes a trained model.
func Encode(fn Function) ([]byte, error) {
	pc, ok := fn.(payloadCodec)
	if !ok {
		return nil, fmt.Errorf("model family %q is not serializable", fn.Family())
	}
	var e encoder
	e.buf.Write(weightsMagic[:])
	e.u16(weightsVersion)
	e.str(fn.Family())
	pc.encodePayload(&e)
	return e.buf.Bytes(), nil
}

// Decode rebuilds a trained model from its weights and the spec that
// produced it.
func Decode(s *spec.Spec, data []byte) (Function, error) {
	d := &decoder{r: bytes.NewReader(data)}

	var magic [4]byte
	if _, err := io.ReadFull(d.r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read weights header: %w", err)
	}
	if magic != weightsMagic {
		return nil, fmt.Errorf("not a weights blob (magic %q)", magic[:])
	}
	version, err := d.u16()
	if err != nil {
		return nil, fmt.Errorf("failed to read weights version: %w", err)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("unsupported weights version %d", version)
	}
	family, err := d.str()
	if err != nil {
		return nil, fmt.Errorf("failed to read model family: %w", err)
	}
	if family != s.EmulatorFn.Type {
		return nil, fmt.Errorf("weights are for family %q, spec declares %q", family, s.EmulatorFn.Type)
	}

	fn, err := New(s)
	if err != nil {
		return nil, err
	}
	pc, ok := fn.(payloadCodec)
	if !ok {
		return nil, fmt.Errorf("model family %q is not serializable", family)
	}
	if err := pc.decodePayload(d); err != nil {
		return nil, fmt.Errorf("failed to decode %s weights: %w", family, err)
	}
	return fn, nil
}
