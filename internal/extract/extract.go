// Package extract pulls receipt records out of free-form model output.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/emilemassie/gemini-receipts/internal/receipt"
)

// receiptsSchema pins the shape of a usable response: a non-empty array of objects.
// Field values are not constrained.
const receiptsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "minItems": 1,
  "items": {"type": "object"}
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(receiptsSchema))
	})
	return schema, schemaErr
}

// Parse finds the first JSON array of objects in text and decodes it.
// Numbers are kept as json.Number so amounts keep their literal text.
func Parse(text string) ([]receipt.Fields, error) {
	span, err := FindArray(text)
	if err != nil {
		return nil, err
	}

	if err := validateShape(span); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	var items []receipt.Fields
	if err := dec.Decode(&items); err != nil {
		return nil, &MalformedJSONError{Message: "decoding receipts", Cause: err}
	}
	return items, nil
}

// Records parses text and maps every object to a Record tagged with image
func Records(text, image string) ([]receipt.Record, error) {
	items, err := Parse(text)
	if err != nil {
		return nil, err
	}

	records := make([]receipt.Record, 0, len(items))
	for _, item := range items {
		records = append(records, receipt.FromFields(item, image))
	}
	return records, nil
}

func validateShape(span string) error {
	s, err := loadSchema()
	if err != nil {
		return fmt.Errorf("loading receipts schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewStringLoader(span))
	if err != nil {
		return &MalformedJSONError{Message: "parsing array", Cause: err}
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			descs = append(descs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return &MalformedJSONError{Message: "unexpected shape: " + strings.Join(descs, "; ")}
	}
	return nil
}
