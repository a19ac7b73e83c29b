package canhoto

import "regexp"

// Canhoto represents a photographed receipt stub with its inferred metadata.
// Num, Date and Store are best effort: any of them may be empty when the
// value could not be determined.
type Canhoto struct {
	ID       string `json:"id"`
	Num      string `json:"num"`      // 5-10 digit receipt number, or ""
	Date     string `json:"date"`     // YYYY-MM-DD, or ""
	Store    string `json:"store"`    // store code, leading zeros stripped, or ""
	Path     string `json:"path"`     // display label "store/date/num", never a lookup key
	Mime     string `json:"mime"`     // declared media type of the source image
	ImageB64 string `json:"imageB64"` // full-resolution image, base64
	ThumbB64 string `json:"thumbB64"` // downscaled preview, base64 JPEG
	OCRText  string `json:"ocrText"`  // raw recognized text, kept for audit
}

var (
	numPattern   = regexp.MustCompile(`^\d{5,10}$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	storePattern = regexp.MustCompile(`^[1-9]\d{0,3}$`)
)

// Valid reports whether the metadata fields satisfy their shape constraints.
// Empty fields are always valid.
func (c *Canhoto) Valid() bool {
	if c.ID == "" {
		return false
	}
	if c.Num != "" && !numPattern.MatchString(c.Num) {
		return false
	}
	if c.Date != "" && !datePattern.MatchString(c.Date) {
		return false
	}
	if c.Store != "" && !storePattern.MatchString(c.Store) {
		return false
	}
	return true
}
