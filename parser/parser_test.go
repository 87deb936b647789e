package parser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/mkoolhoven/go-scrape-ndr/models"
)

const raceSection = `
<div class="ndr-koers-titelbalk">
  <div class="ndr-koers-naam">Koers 3</div>
  <div class="ndr-koers-tijd">14:05</div>
  <div class="ndr-koers-titel">
    <h2>  Grote  Prijs der Lage Landen </h2>
    <span class="ndr-koers-omschrijving">Kortebaan draverij</span>
    <span class="ndr-koers-omschrijving">Voor 4-jarigen en ouder</span>
    <span class="ndr-koers-datum-baan">za 8 januari 2022 - Wolvega</span>
    <span class="ndr-koers-datum-baan">1609m autostart</span>
  </div>
  <table>
    <tr><th>nr.</th><th>paard</th><th>rijder</th><th>tijd</th><th>onbekend</th></tr>
    <tr><td>1</td><td>Snelle   Jelle</td><td>J. de Vries</td><td>1.16,4</td><td>x</td></tr>
    <tr><td>2</td><td>Bliksem</td><td>P. Bakker</td><td>1.16,9</td><td>y</td></tr>
  </table>
</div>`

func sectionFromHTML(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	sel := doc.Find("div.ndr-koers-titelbalk").First()
	if sel.Length() == 0 {
		t.Fatalf("fixture has no race section")
	}
	return sel
}

func TestParseRaceSection(t *testing.T) {
	rows, err := ParseRaceSection(sectionFromHTML(t, raceSection), "12345")
	if err != nil {
		t.Fatalf("parse race section: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.EventID != "12345" {
		t.Fatalf("event id = %q, want %q", first.EventID, "12345")
	}
	if got := first.Get("race_number"); got != "Koers 3" {
		t.Fatalf("race_number = %q", got)
	}
	if got := first.Get("race_time"); got != "14:05" {
		t.Fatalf("race_time = %q", got)
	}
	if got := first.Get("race_title"); got != "Grote Prijs der Lage Landen" {
		t.Fatalf("race_title = %q", got)
	}
	if got := first.Get("description1"); got != "Kortebaan draverij" {
		t.Fatalf("description1 = %q", got)
	}
	if got := first.Get("description2"); got != "Voor 4-jarigen en ouder" {
		t.Fatalf("description2 = %q", got)
	}
	if got := first.Get("description3"); got != "" {
		t.Fatalf("description3 = %q, want empty", got)
	}
	if got := first.Get("date_track"); got != "za 8 januari 2022 - Wolvega" {
		t.Fatalf("date_track = %q", got)
	}
	if got := first.Get("race_infos"); got != "1609m autostart" {
		t.Fatalf("race_infos = %q", got)
	}
	if got := first.Get("paard"); got != "Snelle Jelle" {
		t.Fatalf("paard = %q, want collapsed spaces", got)
	}

	second := rows[1]
	if got := second.Get("nr."); got != "2" {
		t.Fatalf("nr. = %q", got)
	}
	if got := second.Get("tijd"); got != "1.16,9" {
		t.Fatalf("tijd = %q", got)
	}
	// Race metadata repeats on every row of the section.
	if got := second.Get("race_title"); got != "Grote Prijs der Lage Landen" {
		t.Fatalf("race_title on second row = %q", got)
	}
}

func TestParseRaceSectionUnknownColumnDropped(t *testing.T) {
	rows, err := ParseRaceSection(sectionFromHTML(t, raceSection), "12345")
	if err != nil {
		t.Fatalf("parse race section: %v", err)
	}

	record := rows[0].Record()
	for _, value := range record {
		if value == "x" {
			t.Fatalf("unknown column value leaked into record: %v", record)
		}
	}
}

func TestParseRaceSectionNoTable(t *testing.T) {
	html := `<div class="ndr-koers-titelbalk"><div class="ndr-koers-naam">Koers 1</div></div>`
	if _, err := ParseRaceSection(sectionFromHTML(t, html), "12345"); err == nil {
		t.Fatalf("expected error for section without table")
	}
}

func TestParseRaceSectionEmptyTable(t *testing.T) {
	html := `<div class="ndr-koers-titelbalk">
  <div class="ndr-koers-naam">Koers 1</div>
  <table><tr><th>nr.</th><th>paard</th></tr></table>
</div>`
	rows, err := ParseRaceSection(sectionFromHTML(t, html), "12345")
	if err != nil {
		t.Fatalf("parse race section: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0 for header-only table", len(rows))
	}
}

func TestCollapseSpaces(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "internal run", input: "Snelle   Jelle", expected: "Snelle Jelle"},
		{name: "surrounding whitespace", input: "  Bliksem \n", expected: "Bliksem"},
		{name: "tabs and newlines", input: "a\t b\n c", expected: "a b c"},
		{name: "already clean", input: "clean", expected: "clean"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CollapseSpaces(tt.input); got != tt.expected {
				t.Errorf("CollapseSpaces(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateRow(t *testing.T) {
	valid := models.NewResultRow("12345")
	valid.Set("paard", "Bliksem")

	noEvent := models.NewResultRow("")
	noEvent.Set("paard", "Bliksem")

	empty := models.NewResultRow("12345")

	blank := models.NewResultRow("12345")
	blank.Set("paard", "   ")

	tests := []struct {
		name    string
		row     *models.ResultRow
		wantErr bool
	}{
		{name: "valid", row: valid, wantErr: false},
		{name: "nil row", row: nil, wantErr: true},
		{name: "missing event id", row: noEvent, wantErr: true},
		{name: "no fields", row: empty, wantErr: true},
		{name: "only blank fields", row: blank, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRow(tt.row)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRow() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
