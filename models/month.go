package models

import (
	"fmt"
	"strconv"
	"time"
)

const monthLayout = "2006-01"

// Month is a calendar-month token such as "2022-01".
type Month struct {
	year  int
	month time.Month
}

// ParseMonth parses a "YYYY-MM" token.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid year-month %q (want YYYY-MM): %w", s, err)
	}
	return Month{year: t.Year(), month: t.Month()}, nil
}

// ParseRange parses both bounds and returns the inclusive ascending list of
// months between them. start must not be after end.
func ParseRange(start, end string) ([]Month, error) {
	first, err := ParseMonth(start)
	if err != nil {
		return nil, err
	}
	last, err := ParseMonth(end)
	if err != nil {
		return nil, err
	}
	if first.After(last) {
		return nil, fmt.Errorf("start month %s is after end month %s", first, last)
	}

	months := []Month{first}
	for m := first; m != last; {
		m = m.Next()
		months = append(months, m)
	}
	return months, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.year, int(m.month))
}

// Compact renders the token without the separator, e.g. "202201". Used for
// output file names.
func (m Month) Compact() string {
	return fmt.Sprintf("%04d%02d", m.year, int(m.month))
}

// QueryYear is the year value expected by the listing page, e.g. "2022".
func (m Month) QueryYear() string {
	return strconv.Itoa(m.year)
}

// QueryMonth is the month value expected by the listing page. The site uses
// unpadded values ("1" for January).
func (m Month) QueryMonth() string {
	return strconv.Itoa(int(m.month))
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.month == time.December {
		return Month{year: m.year + 1, month: time.January}
	}
	return Month{year: m.year, month: m.month + 1}
}

// After reports whether m is strictly after o.
func (m Month) After(o Month) bool {
	if m.year != o.year {
		return m.year > o.year
	}
	return m.month > o.month
}
