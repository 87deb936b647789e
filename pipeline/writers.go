package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkoolhoven/go-scrape-ndr/models"
)

// OutputPaths returns the three output file paths for a run over the given
// range, e.g. events_202201to202205.csv in dir.
func OutputPaths(dir string, start, end models.Month) (events, results, errs string) {
	span := start.Compact() + "to" + end.Compact()
	events = filepath.Join(dir, "events_"+span+".csv")
	results = filepath.Join(dir, "results_"+span+".csv")
	errs = filepath.Join(dir, "errors_"+span+".csv")
	return events, results, errs
}

// CSVWriter writes result rows to CSV with the fixed header.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row. The
// header is always present, even when the run produces zero rows.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(models.ResultColumns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the CSV output in canonical column order.
func (cw *CSVWriter) Write(rows []*models.ResultRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		if err := cw.writer.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file carries at least the header row.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON result rows.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(rows []*models.ResultRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file exists and is statable. Zero rows is a
// legal outcome, so an empty file passes.
func (jw *JSONWriter) Validate() error {
	if _, err := jw.file.Stat(); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

// EventsWriter writes discovered events to a headerless CSV file, one row
// per event in encounter order.
type EventsWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewEventsWriter creates the events file. The file exists even when the
// run discovers nothing.
func NewEventsWriter(filename string) (*EventsWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create events file: %w", err)
	}

	return &EventsWriter{
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// WriteAll appends every event and flushes.
func (ew *EventsWriter) WriteAll(events []*models.Event) error {
	for _, event := range events {
		if err := ew.writer.Write(event.Record()); err != nil {
			return fmt.Errorf("write event record: %w", err)
		}
	}
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		return fmt.Errorf("flush events file: %w", err)
	}
	return nil
}

// Close flushes and closes the events file.
func (ew *EventsWriter) Close() error {
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		return fmt.Errorf("flush events file: %w", err)
	}
	return ew.file.Close()
}

// ErrorsWriter writes scrape errors to a headerless CSV file. The file is
// created lazily on the first write so that clean runs leave no errors file
// behind.
type ErrorsWriter struct {
	filename string
	file     *os.File
	writer   *csv.Writer
}

// NewErrorsWriter prepares an errors writer without touching the filesystem.
func NewErrorsWriter(filename string) *ErrorsWriter {
	return &ErrorsWriter{filename: filename}
}

// WriteAll materializes the file and appends every entry. A call with zero
// entries is a no-op.
func (ew *ErrorsWriter) WriteAll(entries []*models.ScrapeError) error {
	if len(entries) == 0 {
		return nil
	}

	if ew.file == nil {
		if err := ensureDir(ew.filename); err != nil {
			return err
		}
		f, err := os.Create(ew.filename)
		if err != nil {
			return fmt.Errorf("create errors file: %w", err)
		}
		ew.file = f
		ew.writer = csv.NewWriter(f)
	}

	for _, entry := range entries {
		if err := ew.writer.Write(entry.Record()); err != nil {
			return fmt.Errorf("write error record: %w", err)
		}
	}
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		return fmt.Errorf("flush errors file: %w", err)
	}
	return nil
}

// Close closes the file when it was created.
func (ew *ErrorsWriter) Close() error {
	if ew.file == nil {
		return nil
	}
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		return fmt.Errorf("flush errors file: %w", err)
	}
	return ew.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
