package canhoto

import "strings"

// Manual carries the batch-level values the user typed in by hand. They
// apply to every item in a batch and outrank anything recognized from the
// image. There is no manual number: numbers are too error-prone to key in
// per item, so they always come from the text.
type Manual struct {
	Store string
	Date  string // YYYY-MM-DD
}

// Resolved is the final metadata for one record after precedence merging.
type Resolved struct {
	Num   string
	Date  string
	Store string
	Path  string
}

// Resolve merges manual input, extraction over the recognized text, and a
// fallback extraction over the image filename into final field values.
//
// Precedence: manual beats recognized for date and store; for the number
// the recognized text beats the filename. The path label is always
// recomputed from the winners, never taken from an input.
func Resolve(e Extractor, manual Manual, recognizedText, filename string) Resolved {
	guess := e.Detect(recognizedText)

	num := guess.Num
	if num == "" {
		num = e.Number(filename)
	}

	date := manual.Date
	if date == "" {
		date = guess.Date
	}

	store := manual.Store
	if store == "" {
		store = guess.Store
	}
	store = stripLeadingZeros(store)

	return Resolved{
		Num:   num,
		Date:  date,
		Store: store,
		Path:  displayPath(store, date, num, filename),
	}
}

// stripLeadingZeros normalizes a store code: "007" -> "7". A code that is
// all zeros collapses to "".
func stripLeadingZeros(s string) string {
	return strings.TrimLeft(s, "0")
}

// displayPath composes the "store/date/num" label shown to the user,
// substituting placeholders so it is always non-empty and readable. A
// missing number falls back to the original filename.
func displayPath(store, date, num, filename string) string {
	if store == "" {
		store = "Loja?"
	}
	if date == "" {
		date = "Data?"
	}
	if num == "" {
		num = filename
	}
	return store + "/" + date + "/" + num
}
