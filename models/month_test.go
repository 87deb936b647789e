package models

import (
	"strings"
	"testing"
)

func TestParseMonth(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "january", input: "2022-01", want: "2022-01"},
		{name: "december", input: "2019-12", want: "2019-12"},
		{name: "missing month", input: "2022", wantErr: true},
		{name: "day included", input: "2022-01-05", wantErr: true},
		{name: "month thirteen", input: "2022-13", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "not-a-month", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMonth(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMonth(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && m.String() != tt.want {
				t.Fatalf("ParseMonth(%q) = %s, want %s", tt.input, m, tt.want)
			}
		})
	}
}

func TestParseRangeInclusiveAscending(t *testing.T) {
	months, err := ParseRange("2022-11", "2023-02")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}

	want := []string{"2022-11", "2022-12", "2023-01", "2023-02"}
	if len(months) != len(want) {
		t.Fatalf("months = %d, want %d", len(months), len(want))
	}
	for i, m := range months {
		if m.String() != want[i] {
			t.Fatalf("months[%d] = %s, want %s", i, m, want[i])
		}
	}
}

func TestParseRangeSingleMonth(t *testing.T) {
	months, err := ParseRange("2022-01", "2022-01")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if len(months) != 1 || months[0].String() != "2022-01" {
		t.Fatalf("months = %v, want [2022-01]", months)
	}
}

func TestParseRangeStartAfterEnd(t *testing.T) {
	if _, err := ParseRange("2022-05", "2022-01"); err == nil || !strings.Contains(err.Error(), "after") {
		t.Fatalf("expected start-after-end error, got %v", err)
	}
}

func TestMonthTokens(t *testing.T) {
	m, err := ParseMonth("2022-03")
	if err != nil {
		t.Fatalf("parse month: %v", err)
	}
	if got := m.Compact(); got != "202203" {
		t.Fatalf("Compact() = %q, want %q", got, "202203")
	}
	if got := m.QueryYear(); got != "2022" {
		t.Fatalf("QueryYear() = %q, want %q", got, "2022")
	}
	// The site dropdown uses unpadded month values.
	if got := m.QueryMonth(); got != "3" {
		t.Fatalf("QueryMonth() = %q, want %q", got, "3")
	}
}

func TestMonthNextCrossesYear(t *testing.T) {
	m, err := ParseMonth("2022-12")
	if err != nil {
		t.Fatalf("parse month: %v", err)
	}
	if got := m.Next().String(); got != "2023-01" {
		t.Fatalf("Next() = %s, want 2023-01", got)
	}
}
