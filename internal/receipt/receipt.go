package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Header is the fixed column order of the output CSV
var Header = []string{"vendor", "location", "category", "subtotal", "taxes", "tip", "total", "date", "image"}

// Fields is one receipt object as decoded from the model response.
// Numbers are expected to be json.Number so their literal text survives.
type Fields map[string]any

// Record represents one extracted receipt line item
type Record struct {
	Vendor   string `json:"vendor"`
	Location string `json:"location"`
	Category string `json:"category"`
	Subtotal string `json:"subtotal"`
	Taxes    string `json:"taxes"`
	Tip      string `json:"tip"`
	Total    string `json:"total"`
	Date     string `json:"date"` // ISO 8601 preferred, not validated
	Image    string `json:"image"`
}

// FromFields builds a Record from a decoded receipt object.
// Every column is populated; absent or null fields become empty strings.
func FromFields(f Fields, image string) Record {
	return Record{
		Vendor:   f.text("vendor"),
		Location: f.text("location"),
		Category: f.text("category"),
		Subtotal: f.text("subtotal"),
		Taxes:    f.text("taxes"),
		Tip:      f.text("tip"),
		Total:    f.text("total"),
		Date:     f.text("date"),
		Image:    norm.NFC.String(image),
	}
}

// Values returns the record's cells in Header order
func (r Record) Values() []string {
	return []string{r.Vendor, r.Location, r.Category, r.Subtotal, r.Taxes, r.Tip, r.Total, r.Date, r.Image}
}

// text renders a single field as a CSV cell
func (f Fields) text(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	default:
		// Nested objects and arrays are kept as compact JSON
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			s = fmt.Sprint(val)
		} else {
			s = strings.TrimSpace(buf.String())
		}
	}

	return norm.NFC.String(s)
}
