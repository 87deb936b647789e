// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"time"
)

// ResultColumns is the fixed header of the results file. The first block
// carries race-level metadata, the rest are the column names the site uses in
// its result tables. Row fields outside this set are dropped; absent fields
// serialize as empty strings so files from different runs stay appendable.
var ResultColumns = []string{
	"event", "date_track", "race_time", "race_number", "race_title",
	"description1", "description2", "description3", "race_infos",
	"nr.", "paard", "rijder", "afstand", "startnummer", "startnr",
	"box", "tijd", "na 1e", "Hcap", "prijs", "COTE",
}

// Event is one race day discovered on the listing page.
type Event struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Month     string    `json:"month"`
	Year      string    `json:"year"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Record returns the CSV row for the events file.
func (e *Event) Record() []string {
	return []string{e.ID, e.Date, e.Month, e.Year}
}

// ResultRow is one row of a race result table, tagged with the owning event.
type ResultRow struct {
	EventID string
	Fields  map[string]string
}

// NewResultRow creates an empty row for the given event.
func NewResultRow(eventID string) *ResultRow {
	return &ResultRow{
		EventID: eventID,
		Fields:  make(map[string]string),
	}
}

// Set stores a field value. Columns outside ResultColumns are ignored at
// write time, so Set accepts anything.
func (r *ResultRow) Set(column, value string) {
	r.Fields[column] = value
}

// Get returns the value for a canonical column. The "event" column resolves
// to the owning event ID.
func (r *ResultRow) Get(column string) string {
	if column == "event" {
		return r.EventID
	}
	return r.Fields[column]
}

// Record returns the CSV row in canonical column order.
func (r *ResultRow) Record() []string {
	record := make([]string, len(ResultColumns))
	for i, column := range ResultColumns {
		record[i] = r.Get(column)
	}
	return record
}

// MarshalJSON emits the row as a flat object over the canonical columns.
func (r *ResultRow) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(ResultColumns))
	for _, column := range ResultColumns {
		flat[column] = r.Get(column)
	}
	return json.Marshal(flat)
}

// ScrapeError records a per-event or per-page failure. Ref is the event ID
// when the failure belongs to one event, otherwise a page reference such as
// the month token.
type ScrapeError struct {
	Ref     string
	URL     string
	Message string
}

// Record returns the CSV row for the errors file.
func (e *ScrapeError) Record() []string {
	return []string{e.Ref, e.URL, e.Message}
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	Events       []*Event
	Errors       []*ScrapeError
	StartTime    time.Time
	EndTime      time.Time
	MonthCount   int
	RowCount     int
	RequestCount int
	RetryCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
}
