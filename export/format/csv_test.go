package format

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
)

func testRecords() []Record {
	return []Record{
		{"id": "vpc-1", "name": "core", "peers": 3},
		{"id": "vpc-2", "name": "edge", "peers": 0},
	}
}

func TestCSVGenerate(t *testing.T) {
	g := NewCSVGenerator(nil)
	input := &Input{Records: testRecords(), Fields: []string{"id", "name", "peers"}}

	result := g.Generate(context.Background(), input, nil)
	if !result.Success {
		t.Fatalf("Generate failed: %v", result.Error)
	}
	if result.Metadata.RecordCount != 2 {
		t.Errorf("Unexpected record count: got %d, want 2", result.Metadata.RecordCount)
	}
	if result.Metadata.MimeType != "text/csv" {
		t.Errorf("Unexpected mime type: %q", result.Metadata.MimeType)
	}

	rows, err := csv.NewReader(bytes.NewReader(result.Buffer)).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Unexpected row count: got %d, want 3", len(rows))
	}
	if rows[0][0] != "id" || rows[0][2] != "peers" {
		t.Errorf("Unexpected header row: %v", rows[0])
	}
	if rows[1][0] != "vpc-1" || rows[1][2] != "3" {
		t.Errorf("Unexpected data row: %v", rows[1])
	}
}

func TestCSVGenerateEmptyDataset(t *testing.T) {
	g := NewCSVGenerator(nil)
	result := g.Generate(context.Background(), &Input{Fields: []string{"id", "name"}}, nil)
	if !result.Success {
		t.Fatalf("Generate failed: %v", result.Error)
	}
	if got := strings.TrimSpace(string(result.Buffer)); got != "id,name" {
		t.Errorf("Expected header-only output, got %q", got)
	}
	if result.Metadata.RecordCount != 0 {
		t.Errorf("Unexpected record count: %d", result.Metadata.RecordCount)
	}
}

func TestCSVGenerateInvalidOptions(t *testing.T) {
	g := NewCSVGenerator(nil)
	input := &Input{Records: testRecords(), Fields: []string{"id"}}

	result := g.Generate(context.Background(), input, &Options{Delimiter: "ab"})
	if result.Success {
		t.Fatal("Expected failure for multi-character delimiter")
	}
	if result.Error == nil {
		t.Fatal("Failure result must carry an error")
	}
	if len(result.Buffer) != 0 {
		t.Error("Failure result must not carry output")
	}
}

func TestCSVGenerateBOM(t *testing.T) {
	g := NewCSVGenerator(nil)
	input := &Input{Records: testRecords(), Fields: []string{"id"}}

	result := g.Generate(context.Background(), input, &Options{Encoding: "utf-8-bom"})
	if !result.Success {
		t.Fatalf("Generate failed: %v", result.Error)
	}
	if !bytes.HasPrefix(result.Buffer, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("Expected UTF-8 BOM prefix")
	}
}

func TestCSVGenerateCompressed(t *testing.T) {
	g := NewCSVGenerator(nil)
	input := &Input{Records: testRecords(), Fields: []string{"id", "name"}}

	plain := g.Generate(context.Background(), input, nil)
	compressed := g.Generate(context.Background(), input, &Options{Compress: true})
	if !compressed.Success {
		t.Fatalf("Generate failed: %v", compressed.Error)
	}
	if !compressed.Metadata.Compressed {
		t.Error("Metadata should mark output compressed")
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed.Buffer))
	if err != nil {
		t.Fatalf("Output is not gzip: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("Failed to decompress: %v", err)
	}
	if !bytes.Equal(decoded, plain.Buffer) {
		t.Error("Decompressed output differs from plain output")
	}
}

func TestCSVGenerateMaxFileSize(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.MaxFileSize = 8
	g := NewCSVGenerator(cfg)

	result := g.Generate(context.Background(), &Input{Records: testRecords(), Fields: []string{"id", "name"}}, nil)
	if result.Success {
		t.Fatal("Expected failure when output exceeds max file size")
	}
}

func TestCSVStream(t *testing.T) {
	g := NewCSVGenerator(nil)
	fields := []string{"id", "name"}

	stream, err := g.OpenStream(context.Background(), fields, nil, nil)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	records := testRecords()
	if err := stream.WriteBatch(records[:1]); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := stream.WriteBatch(records[1:]); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	result, err := stream.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if result.Metadata.RecordCount != 2 {
		t.Errorf("Unexpected record count: got %d, want 2", result.Metadata.RecordCount)
	}

	buffered := g.Generate(context.Background(), &Input{Records: records, Fields: fields}, nil)
	if !bytes.Equal(result.Buffer, buffered.Buffer) {
		t.Error("Streaming and buffered output differ for the same input")
	}
}

func TestCSVProgressScript(t *testing.T) {
	g := NewCSVGenerator(nil)
	var percents []int
	input := &Input{
		Records: testRecords(),
		Fields:  []string{"id"},
		OnProgress: func(percent int, stage string) {
			percents = append(percents, percent)
		},
	}

	result := g.Generate(context.Background(), input, nil)
	if !result.Success {
		t.Fatalf("Generate failed: %v", result.Error)
	}
	if len(percents) == 0 {
		t.Fatal("Expected progress callbacks")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("Progress went backwards: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("Final progress should be 100, got %d", percents[len(percents)-1])
	}
}
