package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluejazz822/networkdb-sub008/config"
	"github.com/bluejazz822/networkdb-sub008/export/format"
	"github.com/bluejazz822/networkdb-sub008/export/source"
	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

func testLogger() *logger.Logger {
	l := &logger.Logger{Logger: logrus.New()}
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Exporter {
	cfg := config.DefaultExporter()
	cfg.MaxConcurrentExports = 2
	cfg.DefaultBatchSize = 2
	cfg.CleanupInterval = time.Hour
	cfg.TempFileLifetime = time.Hour
	return cfg
}

func sampleRecords(n int) []format.Record {
	records := make([]format.Record, n)
	for i := range records {
		records[i] = format.Record{"id": fmt.Sprintf("vpc-%d", i), "n": i}
	}
	return records
}

func newTestService(t *testing.T, cfg *config.Exporter, adapter source.Adapter) *Service {
	t.Helper()
	svc, err := NewService(cfg, testLogger(), adapter)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

func waitForTerminal(t *testing.T, svc *Service, jobID string) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := svc.GetExportProgress(jobID)
		if err != nil {
			t.Fatalf("GetExportProgress failed: %v", err)
		}
		if p.Status.Terminal() {
			return p
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached a terminal state", jobID)
	return Progress{}
}

// gatedAdapter blocks every cursor until the gate channel is closed.
type gatedAdapter struct {
	records []format.Record
	gate    chan struct{}
}

func (a *gatedAdapter) Fetch(ctx context.Context, q source.Query) (source.Cursor, error) {
	return &gatedCursor{records: a.records, gate: a.gate}, nil
}

type gatedCursor struct {
	records []format.Record
	gate    chan struct{}
	pos     int
}

func (c *gatedCursor) Next(ctx context.Context, batchSize int) ([]format.Record, error) {
	select {
	case <-c.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.pos >= len(c.records) {
		return nil, nil
	}
	end := c.pos + batchSize
	if batchSize <= 0 || end > len(c.records) {
		end = len(c.records)
	}
	batch := c.records[c.pos:end]
	c.pos = end
	return batch, nil
}

func (c *gatedCursor) Total() int   { return -1 }
func (c *gatedCursor) Close() error { return nil }

// brokenAdapter hands out cursors that fail on the first read.
type brokenAdapter struct{}

func (brokenAdapter) Fetch(ctx context.Context, q source.Query) (source.Cursor, error) {
	return brokenCursor{}, nil
}

type brokenCursor struct{}

func (brokenCursor) Next(ctx context.Context, batchSize int) ([]format.Record, error) {
	return nil, errors.New("connection reset")
}
func (brokenCursor) Total() int   { return -1 }
func (brokenCursor) Close() error { return nil }

func TestValidateOptions(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(1))
	cfg := testConfig()
	cfg.AllowedFormats = []string{"csv"}
	svc := newTestService(t, cfg, adapter)

	var vErr *ValidationError

	_, err := svc.StartExport(nil, nil)
	if !errors.As(err, &vErr) || vErr.Code != CodeStartError {
		t.Errorf("nil options: got %v, want START_ERROR", err)
	}

	_, err = svc.StartExport(&Options{Format: "csv"}, nil)
	if !errors.As(err, &vErr) || vErr.Code != CodeStartError {
		t.Errorf("missing resource type: got %v, want START_ERROR", err)
	}

	_, err = svc.StartExport(&Options{Format: "xml", ResourceType: "vpc"}, nil)
	if !errors.As(err, &vErr) || vErr.Code != CodeInvalidFormat {
		t.Errorf("unknown format: got %v, want INVALID_FORMAT", err)
	}

	// Registered but not on the allow-list.
	_, err = svc.StartExport(&Options{Format: format.JSON, ResourceType: "vpc"}, nil)
	if !errors.As(err, &vErr) || vErr.Code != CodeInvalidFormat {
		t.Errorf("disallowed format: got %v, want INVALID_FORMAT", err)
	}

	// Generator-level fail-fast: duplicate custom headers.
	_, err = svc.StartExport(&Options{
		Format:       format.CSV,
		ResourceType: "vpc",
		Custom:       &format.Options{Headers: []string{"A", "A"}},
	}, nil)
	if !errors.As(err, &vErr) || vErr.Code != CodeStartError {
		t.Errorf("duplicate headers: got %v, want START_ERROR", err)
	}
	if !errors.Is(err, format.ErrDuplicateHeader) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestUseStreaming(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	svc := newTestService(t, testConfig(), adapter)
	s := svc.scheduler

	csvGen, _ := s.registry.Get(format.CSV)
	pdfGen, _ := s.registry.Get(format.PDF)
	threshold := csvGen.Descriptor().DefaultConfig.StreamingThreshold

	tests := []struct {
		name  string
		gen   format.Generator
		opts  *Options
		total int
		want  bool
	}{
		{"small dataset buffers", csvGen, &Options{}, 10, false},
		{"at threshold buffers", csvGen, &Options{}, threshold, false},
		{"above threshold streams", csvGen, &Options{}, threshold + 1, true},
		{"unknown total streams", csvGen, &Options{}, -1, true},
		{"caller can force streaming", csvGen, &Options{Streaming: true}, 10, true},
		{"buffered-only ignores force", pdfGen, &Options{Streaming: true}, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.useStreaming(tt.gen, tt.opts, tt.total); got != tt.want {
				t.Errorf("useStreaming() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartExportCompletes(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(5))
	svc := newTestService(t, testConfig(), adapter)

	id, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a job id")
	}

	p := waitForTerminal(t, svc, id)
	if p.Status != StatusCompleted {
		t.Fatalf("Unexpected status: %s (error %v)", p.Status, p.Error)
	}
	if p.Progress != 100 {
		t.Errorf("Completed job must report 100, got %d", p.Progress)
	}
	if p.ProcessedRecords != 5 || p.TotalRecords != 5 {
		t.Errorf("Unexpected counts: %d/%d", p.ProcessedRecords, p.TotalRecords)
	}

	result, err := svc.GetExportResult(id)
	if err != nil {
		t.Fatalf("GetExportResult failed: %v", err)
	}
	if !result.Success || len(result.Buffer) == 0 {
		t.Fatalf("Unexpected result: success=%v, %d bytes", result.Success, len(result.Buffer))
	}
	if result.Metadata.RecordCount != 5 {
		t.Errorf("Unexpected record count: %d", result.Metadata.RecordCount)
	}

	// Ids are unique across submissions.
	id2, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("Second StartExport failed: %v", err)
	}
	if id2 == id {
		t.Error("Job ids must be unique")
	}
}

func TestResultIsNilWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	adapter := &gatedAdapter{records: sampleRecords(3), gate: gate}
	svc := newTestService(t, testConfig(), adapter)

	id, err := svc.StartExport(&Options{Format: format.JSON, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}

	result, err := svc.GetExportResult(id)
	if err != nil {
		t.Fatalf("GetExportResult failed: %v", err)
	}
	if result != nil {
		t.Error("Result must be nil while the job is running")
	}

	close(gate)
	waitForTerminal(t, svc, id)
}

func TestProgressMonotonic(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(20))
	cfg := testConfig()
	cfg.DefaultBatchSize = 3
	svc := newTestService(t, cfg, adapter)

	var snapshots []Progress
	done := make(chan struct{})
	_, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc"}, func(p Progress) {
		snapshots = append(snapshots, p)
		if p.Status.Terminal() {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("No terminal callback")
	}

	if len(snapshots) == 0 {
		t.Fatal("Expected progress callbacks")
	}
	for i := 1; i < len(snapshots); i++ {
		if snapshots[i].Progress < snapshots[i-1].Progress {
			t.Fatalf("Progress went backwards at %d: %d -> %d", i, snapshots[i-1].Progress, snapshots[i].Progress)
		}
	}
	for i, p := range snapshots {
		if p.Progress == 100 && p.Status != StatusCompleted {
			t.Errorf("Snapshot %d reports 100 while %s", i, p.Status)
		}
		if p.Status.Terminal() && i != len(snapshots)-1 {
			t.Errorf("Terminal snapshot %d is not last of %d", i, len(snapshots))
		}
	}
	last := snapshots[len(snapshots)-1]
	if last.Status != StatusCompleted || last.Progress != 100 {
		t.Errorf("Unexpected final snapshot: %s %d", last.Status, last.Progress)
	}
	if _, err := svc.GetExportProgress("export_0_missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestFetchErrorFailsJob(t *testing.T) {
	svc := newTestService(t, testConfig(), brokenAdapter{})

	id, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}

	p := waitForTerminal(t, svc, id)
	if p.Status != StatusFailed {
		t.Fatalf("Unexpected status: %s", p.Status)
	}
	if p.Error == nil || p.Error.Stage != StageFetch {
		t.Errorf("Expected fetch-stage error, got %+v", p.Error)
	}

	result, err := svc.GetExportResult(id)
	if err != nil {
		t.Fatalf("GetExportResult failed: %v", err)
	}
	if result.Success || result.Error == nil {
		t.Errorf("Failed job result must carry the error: %+v", result)
	}
}

func TestMaxRecordsPerExport(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(10))
	cfg := testConfig()
	cfg.MaxRecordsPerExport = 4
	svc := newTestService(t, cfg, adapter)

	id, err := svc.StartExport(&Options{Format: format.JSON, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}
	p := waitForTerminal(t, svc, id)
	if p.Status != StatusCompleted {
		t.Fatalf("Unexpected status: %s (error %v)", p.Status, p.Error)
	}

	result, _ := svc.GetExportResult(id)
	if result.Metadata.RecordCount != 4 {
		t.Errorf("Record cap not applied: got %d, want 4", result.Metadata.RecordCount)
	}
}

func TestConfigCompressionDefault(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(5))
	cfg := testConfig()
	cfg.CompressionEnabled = true
	svc := newTestService(t, cfg, adapter)

	id, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}
	if p := waitForTerminal(t, svc, id); p.Status != StatusCompleted {
		t.Fatalf("Unexpected status: %s (error %v)", p.Status, p.Error)
	}

	result, err := svc.GetExportResult(id)
	if err != nil {
		t.Fatalf("GetExportResult failed: %v", err)
	}
	if !result.Metadata.Compressed {
		t.Fatal("Config-enabled compression was not applied")
	}
	if len(result.Buffer) < 2 || result.Buffer[0] != 0x1f || result.Buffer[1] != 0x8b {
		t.Fatalf("Output is not gzip: % x", result.Buffer[:2])
	}
	zr, err := gzip.NewReader(bytes.NewReader(result.Buffer))
	if err != nil {
		t.Fatalf("Failed to open gzip output: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("Failed to decompress output: %v", err)
	}
	if !bytes.Contains(plain, []byte("vpc-0")) {
		t.Errorf("Decompressed output missing records: %q", plain)
	}

	// Generators without compression support are left alone.
	id, err = svc.StartExport(&Options{Format: format.Excel, ResourceType: "vpc"}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}
	if p := waitForTerminal(t, svc, id); p.Status != StatusCompleted {
		t.Fatalf("Unexpected status: %s (error %v)", p.Status, p.Error)
	}
	result, _ = svc.GetExportResult(id)
	if result.Metadata.Compressed {
		t.Error("Excel output must not be gzip-wrapped")
	}
}

func TestQueuePromotionUnderChurn(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(3))
	cfg := testConfig()
	cfg.MaxConcurrentExports = 1
	svc := newTestService(t, cfg, adapter)

	const submitters, perSubmitter = 4, 5
	ids := make(chan string, submitters*perSubmitter)
	var wg sync.WaitGroup
	for g := 0; g < submitters; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				id, err := svc.QueueExport(&Options{Format: format.CSV, ResourceType: "vpc"})
				if err != nil {
					t.Errorf("QueueExport failed: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	// Jobs queued while slots free up concurrently must all be promoted
	// without any further submission waking the queue.
	for id := range ids {
		if p := waitForTerminal(t, svc, id); p.Status != StatusCompleted {
			t.Errorf("Job %s: %s (error %v)", id, p.Status, p.Error)
		}
	}
}

func TestForcedStreamingCompletes(t *testing.T) {
	adapter := source.NewMemoryAdapter()
	adapter.Load("vpc", sampleRecords(25))
	cfg := testConfig()
	cfg.DefaultBatchSize = 4
	svc := newTestService(t, cfg, adapter)

	id, err := svc.StartExport(&Options{Format: format.CSV, ResourceType: "vpc", Streaming: true}, nil)
	if err != nil {
		t.Fatalf("StartExport failed: %v", err)
	}
	p := waitForTerminal(t, svc, id)
	if p.Status != StatusCompleted {
		t.Fatalf("Unexpected status: %s (error %v)", p.Status, p.Error)
	}

	result, _ := svc.GetExportResult(id)
	if result.Metadata.RecordCount != 25 {
		t.Errorf("Unexpected record count: %d", result.Metadata.RecordCount)
	}
}
