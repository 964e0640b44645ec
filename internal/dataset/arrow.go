package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/spec"
)

// Arrow column naming: parameters and outputs keep their spec names
// under a prefix so they cannot collide with the bookkeeping columns.
const (
	paramPrefix  = "param."
	outputPrefix = "output."
)

// WriteArrow streams the set as Arrow IPC: one row per example, one
// float64 column per parameter and one list<float64> column per output
// tensor. Failure markers become null tensors. Fingerprints travel in
// the schema metadata so a consumer can tell which build produced the
// file.
func WriteArrow(w io.Writer, s *spec.Spec, set *Set) error {
	alloc := memory.NewGoAllocator()

	fields := []arrow.Field{
		{Name: "index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "held_out", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "failed", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "reason", Type: arrow.BinaryTypes.String},
	}
	for _, p := range s.Parameters {
		fields = append(fields, arrow.Field{
			Name: paramPrefix + p.Name,
			Type: arrow.PrimitiveTypes.Float64,
		})
	}
	for _, out := range s.Outputs {
		fields = append(fields, arrow.Field{
			Name:     outputPrefix + out.Name,
			Type:     arrow.ListOf(arrow.PrimitiveTypes.Float64),
			Nullable: true,
		})
	}
	md := arrow.NewMetadata(
		[]string{"spec_name", "spec_fp", "env_fp"},
		[]string{s.Name, string(set.SpecFP), string(set.EnvFP)},
	)
	schema := arrow.NewSchema(fields, &md)

	rb := array.NewRecordBuilder(alloc, schema)
	defer rb.Release()

	for _, ex := range set.Examples {
		rb.Field(0).(*array.Int64Builder).Append(int64(ex.Index))
		rb.Field(1).(*array.BooleanBuilder).Append(ex.HeldOut)
		rb.Field(2).(*array.BooleanBuilder).Append(ex.Failed)
		rb.Field(3).(*array.StringBuilder).Append(ex.Reason)
		for i := range s.Parameters {
			rb.Field(4+i).(*array.Float64Builder).Append(ex.Point[i])
		}
		base := 4 + len(s.Parameters)
		for j, out := range s.Outputs {
			lb := rb.Field(base + j).(*array.ListBuilder)
			if ex.Failed {
				lb.AppendNull()
				continue
			}
			lb.Append(true)
			lb.ValueBuilder().(*array.Float64Builder).AppendValues(ex.Values[out.Name], nil)
		}
	}

	rec := rb.NewRecord()
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write arrow record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("failed to finish arrow stream: %w", err)
	}
	return nil
}

// ReadArrow rebuilds a Set from an Arrow IPC stream written by
// WriteArrow.
func ReadArrow(r io.Reader) (*Set, error) {
	rdr, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	meta := schema.Metadata()
	set := &Set{}
	if i := meta.FindKey("spec_fp"); i >= 0 {
		set.SpecFP = fingerprint.Digest(meta.Values()[i])
	}
	if i := meta.FindKey("env_fp"); i >= 0 {
		set.EnvFP = fingerprint.Digest(meta.Values()[i])
	}

	var paramCols, outputCols []int
	for i, f := range schema.Fields() {
		switch {
		case strings.HasPrefix(f.Name, paramPrefix):
			paramCols = append(paramCols, i)
		case strings.HasPrefix(f.Name, outputPrefix):
			outputCols = append(outputCols, i)
		}
	}

	for rdr.Next() {
		rec := rdr.Record()
		idxCol := rec.Column(0).(*array.Int64)
		heldCol := rec.Column(1).(*array.Boolean)
		failCol := rec.Column(2).(*array.Boolean)
		reasonCol := rec.Column(3).(*array.String)

		for row := 0; row < int(rec.NumRows()); row++ {
			ex := Example{
				Index:   int(idxCol.Value(row)),
				HeldOut: heldCol.Value(row),
				Failed:  failCol.Value(row),
				Reason:  reasonCol.Value(row),
			}
			for _, ci := range paramCols {
				ex.Point = append(ex.Point, rec.Column(ci).(*array.Float64).Value(row))
			}
			if !ex.Failed {
				ex.Values = make(map[string][]float64, len(outputCols))
				for _, ci := range outputCols {
					name := strings.TrimPrefix(schema.Field(ci).Name, outputPrefix)
					la := rec.Column(ci).(*array.List)
					start, end := la.ValueOffsets(row)
					vals := la.ListValues().(*array.Float64)
					tensor := make([]float64, 0, end-start)
					for k := start; k < end; k++ {
						tensor = append(tensor, vals.Value(int(k)))
					}
					ex.Values[name] = tensor
				}
			}
			set.Examples = append(set.Examples, ex)
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return set, nil
}
