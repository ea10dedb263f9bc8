package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pithecene-io/streamrun/config"
)

func TestBuildFetcher_GeneratorProducesFixedWidthRecords(t *testing.T) {
	fetch, closeFetch, err := buildFetcher(config.SourceConfig{
		Kind:    config.SourceGenerator,
		Options: map[string]string{"interval_ms": "1"},
	})
	if err != nil {
		t.Fatalf("buildFetcher() error = %v", err)
	}
	defer closeFetch()

	raw, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if len(raw) != kvRecordSize {
		t.Errorf("fetch() record length = %d, want %d", len(raw), kvRecordSize)
	}
}

func TestBuildFetcher_CSVRequiresPath(t *testing.T) {
	if _, _, err := buildFetcher(config.SourceConfig{Kind: config.SourceCSV}); err == nil {
		t.Fatal("buildFetcher() CSV with no path: want error, got nil")
	}
}

func TestBuildFetcher_KafkaNotWired(t *testing.T) {
	if _, _, err := buildFetcher(config.SourceConfig{Kind: config.SourceKafka}); err == nil {
		t.Fatal("buildFetcher() Kafka: want error, got nil")
	}
}

func TestBuildFetcher_MemoryNotAvailable(t *testing.T) {
	if _, _, err := buildFetcher(config.SourceConfig{Kind: config.SourceMemory}); err == nil {
		t.Fatal("buildFetcher() Memory: want error, got nil")
	}
}

func TestCSVToKVRecord(t *testing.T) {
	rec, err := csvToKVRecord([]string{"1", "2", "1700000000000"})
	if err != nil {
		t.Fatalf("csvToKVRecord() error = %v", err)
	}
	if len(rec) != kvRecordSize {
		t.Errorf("csvToKVRecord() length = %d, want %d", len(rec), kvRecordSize)
	}
}

func TestCSVToKVRecord_WrongFieldCount(t *testing.T) {
	if _, err := csvToKVRecord([]string{"1", "2"}); err == nil {
		t.Fatal("csvToKVRecord() with 2 fields: want error, got nil")
	}
}

func TestNewLineFetcher_YieldsLinesThenEOF(t *testing.T) {
	fetch := newLineFetcher(bytes.NewBufferString("a,b,c\nd,e,f\n"))

	line1, err := fetch(context.Background())
	if err != nil || string(line1) != "a,b,c" {
		t.Fatalf("fetch() = %q, %v, want %q, nil", line1, err, "a,b,c")
	}
	line2, err := fetch(context.Background())
	if err != nil || string(line2) != "d,e,f" {
		t.Fatalf("fetch() = %q, %v, want %q, nil", line2, err, "d,e,f")
	}
	if _, err := fetch(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("fetch() at end = %v, want io.EOF", err)
	}
}

func TestNewFixedWidthConnFetcher_ReadsExactWidth(t *testing.T) {
	payload := kvEncodeForTest(9, 99, 999)
	fetch := newFixedWidthConnFetcher(bytes.NewReader(payload), kvRecordSize)

	rec, err := fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if !bytes.Equal(rec, payload) {
		t.Errorf("fetch() = %v, want %v", rec, payload)
	}
}

func TestNewFixedWidthConnFetcher_ShortReadFails(t *testing.T) {
	fetch := newFixedWidthConnFetcher(bytes.NewReader([]byte{1, 2, 3}), kvRecordSize)
	if _, err := fetch(context.Background()); err == nil {
		t.Fatal("fetch() with short read: want error, got nil")
	}
}
