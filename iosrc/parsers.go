package iosrc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// FixedWidthParser splits a raw chunk into schemaSize-byte records with
// no further decoding. It is the Parser for Memory and Generator
// sources, and for any transport (TCP, Kafka) whose payload is already
// fixed-width encoded upstream.
type FixedWidthParser struct {
	schemaSize int
}

// NewFixedWidthParser builds a FixedWidthParser for records of the
// given width.
func NewFixedWidthParser(schemaSize int) *FixedWidthParser {
	return &FixedWidthParser{schemaSize: schemaSize}
}

func (p *FixedWidthParser) SchemaSizeBytes() int { return p.schemaSize }

func (p *FixedWidthParser) Parse(raw []byte) ([][]byte, error) {
	if len(raw)%p.schemaSize != 0 {
		return nil, fmt.Errorf("iosrc: chunk length %d is not a multiple of record size %d", len(raw), p.schemaSize)
	}
	n := len(raw) / p.schemaSize
	records := make([][]byte, n)
	for i := 0; i < n; i++ {
		rec := make([]byte, p.schemaSize)
		copy(rec, raw[i*p.schemaSize:(i+1)*p.schemaSize])
		records[i] = rec
	}
	return records, nil
}

// CSVFieldCodec encodes one parsed CSV row into a fixed-width record.
// Callers supply this to bridge a schema-less text format into the
// engine's fixed-width record convention.
type CSVFieldCodec func(fields []string) ([]byte, error)

// CSVParser splits a chunk on newlines, then on commas, and hands each
// row's fields to Codec. Rows are newline-delimited; a chunk boundary
// that splits a row is the caller's (Fetcher's) responsibility to avoid
// — Fetchers for streaming CSV sources should buffer until the next
// newline before returning a chunk.
type CSVParser struct {
	Codec      CSVFieldCodec
	schemaSize int
}

// NewCSVParser builds a CSVParser. schemaSize is the width of the
// fixed-width record Codec produces, reported via SchemaSizeBytes.
func NewCSVParser(schemaSize int, codec CSVFieldCodec) *CSVParser {
	return &CSVParser{Codec: codec, schemaSize: schemaSize}
}

func (p *CSVParser) SchemaSizeBytes() int { return p.schemaSize }

func (p *CSVParser) Parse(raw []byte) ([][]byte, error) {
	lines := bytes.Split(raw, []byte("\n"))
	var records [][]byte
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		fields := splitCSVLine(line)
		rec, err := p.Codec(fields)
		if err != nil {
			return nil, fmt.Errorf("iosrc: csv row %q: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func splitCSVLine(line []byte) []string {
	parts := bytes.Split(line, []byte(","))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// GeneratorFunc produces the next synthetic record, or io.EOF-wrapping
// behavior is left to the caller (a Generator source is normally
// unbounded; callers stop it via the driver's ctx cancellation rather
// than exhaustion).
type GeneratorFunc func(seq int64) []byte

// NewGeneratorFetcher adapts a GeneratorFunc into a Fetcher that returns
// whatever gen produces for each sequence number as one chunk, counting
// up from zero. The
// generator is unbounded; callers stop it via ctx cancellation rather
// than by exhaustion.
func NewGeneratorFetcher(gen GeneratorFunc) Fetcher {
	var seq int64
	return func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rec := gen(seq)
		seq++
		return rec, nil
	}
}

// NewPacedGeneratorFetcher is NewGeneratorFetcher with an interval
// between records, for a Generator source driving a live worker rather
// than a test (which wants records as fast as the test can consume
// them).
func NewPacedGeneratorFetcher(gen GeneratorFunc, interval time.Duration) Fetcher {
	inner := NewGeneratorFetcher(gen)
	ticker := time.NewTicker(interval)
	return func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return nil, ctx.Err()
		case <-ticker.C:
			return inner(ctx)
		}
	}
}

// Uint64KeyValueRecord encodes a {key, value, event time} triple as a
// 24-byte little-endian record, matching the kvRecord shape used by the
// aggregation handler tests.
func Uint64KeyValueRecord(key, value uint64, eventTimeMillis int64) []byte {
	rec := make([]byte, 24)
	binary.LittleEndian.PutUint64(rec[0:8], key)
	binary.LittleEndian.PutUint64(rec[8:16], value)
	binary.LittleEndian.PutUint64(rec[16:24], uint64(eventTimeMillis))
	return rec
}
