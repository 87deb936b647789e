// Package parser extracts race results from ndr.nl result pages.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mkoolhoven/go-scrape-ndr/models"
)

var spaceRun = regexp.MustCompile(`\s+`)

// CollapseSpaces trims the string and squeezes internal whitespace runs into
// single spaces. Result table cells carry heavy indentation markup.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// ParseRaceSection extracts the result rows of one race section, the
// div.ndr-koers-titelbalk block holding a race header and its leaderboard
// table. Every row is tagged with eventID and carries the race metadata
// scraped from the section header. A section without a table is a parse
// error; a table without data rows yields zero rows.
func ParseRaceSection(sel *goquery.Selection, eventID string) ([]*models.ResultRow, error) {
	table := sel.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("race section has no table")
	}

	info := raceInfo(sel)

	tableRows := table.Find("tr")
	if tableRows.Length() == 0 {
		return nil, nil
	}

	var header []string
	tableRows.First().Find("th").Each(func(_ int, cell *goquery.Selection) {
		header = append(header, CollapseSpaces(cell.Text()))
	})

	var rows []*models.ResultRow
	tableRows.Slice(1, tableRows.Length()).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := models.NewResultRow(eventID)
		for column, value := range info {
			row.Set(column, value)
		}
		cells.Each(func(i int, cell *goquery.Selection) {
			if i < len(header) && header[i] != "" {
				row.Set(header[i], CollapseSpaces(cell.Text()))
			}
		})
		rows = append(rows, row)
	})

	return rows, nil
}

// raceInfo collects the race-level metadata printed above the table.
func raceInfo(sel *goquery.Selection) map[string]string {
	info := map[string]string{
		"race_number": CollapseSpaces(sel.Find("div.ndr-koers-naam").First().Text()),
		"race_time":   CollapseSpaces(sel.Find("div.ndr-koers-tijd").First().Text()),
	}

	title := sel.Find("div.ndr-koers-titel").First()
	info["race_title"] = CollapseSpaces(title.Find("h2").First().Text())

	// The site publishes up to three description lines per race.
	title.Find("span.ndr-koers-omschrijving").Each(func(i int, desc *goquery.Selection) {
		if i < 3 {
			info[fmt.Sprintf("description%d", i+1)] = CollapseSpaces(desc.Text())
		}
	})

	datumBaan := title.Find("span.ndr-koers-datum-baan")
	if datumBaan.Length() > 0 {
		info["date_track"] = CollapseSpaces(datumBaan.Eq(0).Text())
	}
	if datumBaan.Length() > 1 {
		info["race_infos"] = CollapseSpaces(datumBaan.Eq(1).Text())
	}

	return info
}

// ValidateRow ensures the scraper captured a usable row.
func ValidateRow(r *models.ResultRow) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.EventID) == "" {
		return fmt.Errorf("row missing event id")
	}
	for _, value := range r.Fields {
		if strings.TrimSpace(value) != "" {
			return nil
		}
	}
	return fmt.Errorf("row for event %s has no populated fields", r.EventID)
}
