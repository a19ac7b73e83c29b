package canhoto

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateOrder is the policy applied when a day-first/month-first date is
// ambiguous (both leading groups <= 12). "03/04/2024" is March 4 under
// MonthDayYear and April 3 under DayMonthYear; there is no way to tell
// from the text alone, so the choice is configuration.
type DateOrder int

const (
	DayMonthYear DateOrder = iota
	MonthDayYear
)

// ParseDateOrder maps the CLI spelling to a DateOrder.
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dmy", "":
		return DayMonthYear, nil
	case "mdy":
		return MonthDayYear, nil
	}
	return DayMonthYear, fmt.Errorf("unknown date order %q (want dmy or mdy)", s)
}

// Detection holds the best-guess metadata pulled out of a text blob.
// Any field may be empty; partial results are normal.
type Detection struct {
	Num   string
	Date  string
	Store string
}

// Extractor derives receipt metadata from noisy recognized text. The zero
// value is usable and assumes day-month-year for ambiguous dates.
type Extractor struct {
	Order DateOrder
}

var (
	digitRun    = regexp.MustCompile(`\d+`)
	storeToken  = regexp.MustCompile(`(?i)(?:loja|store)\s*(\d{1,4})`)
	isoDate     = regexp.MustCompile(`(\d{4})[-/.](\d{2})[-/.](\d{2})`)
	loosePivot  = regexp.MustCompile(`(\d{1,2})[./-](\d{1,2})[./-](\d{4})`)
)

// Number returns the first maximal run of 5 to 10 consecutive digits in
// text, or "". A qualifying run must not be a substring of a longer digit
// run, so an 11-digit sequence yields nothing.
func (e Extractor) Number(text string) string {
	for _, run := range digitRun.FindAllString(text, -1) {
		if len(run) >= 5 && len(run) <= 10 {
			return run
		}
	}
	return ""
}

// Store returns the digits following the first "loja" or "store" token
// (case-insensitive, optional whitespace), or "". Leading zeros are kept;
// normalization happens at resolution time.
func (e Extractor) Store(text string) string {
	m := storeToken.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Date returns the first date found in text as YYYY-MM-DD, or "".
//
// An ISO-shaped match (YYYY-MM-DD with -, / or . separators) anywhere in
// the text wins over any other pattern. Otherwise a D/M/YYYY-shaped match
// is interpreted through the day/month decision table below.
func (e Extractor) Date(text string) string {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if iso, ok := calendarDate(year, month, day); ok {
			return iso
		}
		// An invalid ISO-shaped match does not block the loose pattern:
		// the same characters may parse correctly the other way around.
	}

	m := loosePivot.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	day, month, ok := e.orderGroups(first, second)
	if !ok {
		return ""
	}
	iso, ok := calendarDate(year, month, day)
	if !ok {
		return ""
	}
	return iso
}

// orderGroups applies the day/month decision table to the two leading
// numeric groups of a loose date match:
//
//	first > 31 or second > 31      -> reject
//	first > 12 and second <= 12    -> first=day, second=month
//	second > 12 and first <= 12    -> first=month, second=day
//	otherwise                      -> configured default order
func (e Extractor) orderGroups(first, second int) (day, month int, ok bool) {
	switch {
	case first > 31 || second > 31:
		return 0, 0, false
	case first > 12 && second <= 12:
		return first, second, true
	case second > 12 && first <= 12:
		return second, first, true
	case e.Order == MonthDayYear:
		return second, first, true
	default:
		return first, second, true
	}
}

// Detect runs all three extractors independently over the same input.
func (e Extractor) Detect(text string) Detection {
	return Detection{
		Num:   e.Number(text),
		Date:  e.Date(text),
		Store: e.Store(text),
	}
}

// calendarDate formats year/month/day as ISO and reports whether they
// denote a real calendar date. time.Date normalizes out-of-range values
// (Feb 31 becomes Mar 2), so a round-trip mismatch means the input was
// not a valid date.
func calendarDate(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}
