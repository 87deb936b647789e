package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkoolhoven/go-scrape-ndr/config"
	"github.com/mkoolhoven/go-scrape-ndr/models"
)

type mockWriter struct {
	mu     sync.Mutex
	rows   []*models.ResultRow
	writes int
	err    error
}

func (mw *mockWriter) Write(rows []*models.ResultRow) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.err != nil {
		return mw.err
	}
	mw.rows = append(mw.rows, rows...)
	mw.writes++
	return nil
}

func (mw *mockWriter) Close() error    { return nil }
func (mw *mockWriter) Validate() error { return nil }

func (mw *mockWriter) count() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return len(mw.rows)
}

func (mw *mockWriter) writeCount() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.writes
}

type blockingWriter struct {
	release chan struct{}
}

func (bw *blockingWriter) Write(rows []*models.ResultRow) error {
	<-bw.release
	return nil
}

func (bw *blockingWriter) Close() error    { return nil }
func (bw *blockingWriter) Validate() error { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 16
	cfg.BatchSize = 4
	return cfg
}

func resultRow(eventID, raceNumber, nr, paard string) *models.ResultRow {
	row := models.NewResultRow(eventID)
	row.Set("race_number", raceNumber)
	row.Set("nr.", nr)
	row.Set("paard", paard)
	return row
}

func TestPipelineProcessesRowsInOrder(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, testConfig())
	p.Start(1)

	want := []string{"Aap", "Bliksem", "Castor"}
	for i, name := range want {
		if err := p.Process(resultRow("111", "Koers 1", string(rune('1'+i)), name)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if writer.count() != len(want) {
		t.Fatalf("rows written = %d, want %d", writer.count(), len(want))
	}
	for i, name := range want {
		if got := writer.rows[i].Get("paard"); got != name {
			t.Fatalf("rows[%d].paard = %q, want %q", i, got, name)
		}
	}
}

func TestPipelineDropsInvalidRows(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, testConfig())
	p.Start(1)

	missingEvent := models.NewResultRow("")
	missingEvent.Set("paard", "Aap")
	noFields := models.NewResultRow("111")

	if err := p.Process(
		resultRow("111", "Koers 1", "1", "Aap"),
		missingEvent,
		noFields,
		nil,
	); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if writer.count() != 1 {
		t.Fatalf("rows written = %d, want 1", writer.count())
	}

	snapshot := p.GetMetrics()
	validation := snapshot["validation_errors"].(map[string]int)
	if validation["invalid_record"] != 2 {
		t.Fatalf("invalid_record = %d, want 2", validation["invalid_record"])
	}
	if snapshot["processed_rows"].(int64) != 1 {
		t.Fatalf("processed_rows = %d, want 1", snapshot["processed_rows"])
	}
}

func TestPipelineKeepsDuplicatesByDefault(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, testConfig())
	p.Start(1)

	row := resultRow("111", "Koers 1", "1", "Aap")
	dup := resultRow("111", "Koers 1", "1", "Aap")
	if err := p.Process(row, dup); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if writer.count() != 2 {
		t.Fatalf("rows written = %d, want 2 (duplicates preserved)", writer.count())
	}
}

func TestPipelineDedupeWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeMaxSize = 64

	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(
		resultRow("111", "Koers 1", "1", "Aap"),
		resultRow("111", "Koers 1", "1", "Aap"),
		resultRow("111", "Koers 1", "2", "Bliksem"),
	); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if writer.count() != 2 {
		t.Fatalf("rows written = %d, want 2", writer.count())
	}

	validation := p.GetMetrics()["validation_errors"].(map[string]int)
	if validation["duplicate_row"] != 1 {
		t.Fatalf("duplicate_row = %d, want 1", validation["duplicate_row"])
	}
}

func TestPipelineFlushesFullBatches(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2

	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 5; i++ {
		if err := p.Process(resultRow("111", "Koers 1", "1", "Aap")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if writer.count() != 5 {
		t.Fatalf("rows written = %d, want 5", writer.count())
	}
	// Two full batches plus a final partial flush.
	if writer.writeCount() != 3 {
		t.Fatalf("writes = %d, want 3", writer.writeCount())
	}
}

func TestPipelineWriterErrorSurfaces(t *testing.T) {
	writer := &mockWriter{err: errors.New("disk full")}
	cfg := testConfig()
	cfg.BatchSize = 1

	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(resultRow("111", "Koers 1", "1", "Aap")); err != nil {
		t.Fatalf("process: %v", err)
	}

	err := p.Close()
	if err == nil || !errors.Is(err, writer.err) {
		t.Fatalf("close error = %v, want wrapped %v", err, writer.err)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, testConfig())
	p.Start(1)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := p.Process(resultRow("111", "Koers 1", "1", "Aap"))
	if !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want %v", err, ErrPipelineClosed)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	original := drainTimeout
	drainTimeout = 50 * time.Millisecond
	defer func() { drainTimeout = original }()

	bw := &blockingWriter{release: make(chan struct{})}
	cfg := testConfig()
	cfg.BatchSize = 1

	p := NewPipeline(context.Background(), bw, cfg)
	p.Start(1)

	if err := p.Process(resultRow("111", "Koers 1", "1", "Aap")); err != nil {
		t.Fatalf("process: %v", err)
	}

	err := p.Close()
	if !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("close = %v, want %v", err, ErrPipelineCloseTimeout)
	}
	close(bw.release)
}
