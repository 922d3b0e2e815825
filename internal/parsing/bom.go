// Package parsing splits the stage-A BOM response into its labeled sections
// and extracts the parts list that drives certificate generation.
package parsing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/schemas"
	"github.com/jonathan/bom-generator/internal/types"
)

// Section labels the BOM prompt asks the backend to emit.
const (
	TabularSectionLabel = "CSV:"
	JSONSectionLabel    = "JSON:"
)

// SplitBOMResponse splits a stage-A response on the first JSON section label.
// The tabular part has its CSV label removed and both parts are trimmed.
func SplitBOMResponse(response string) (*types.BomArtifact, error) {
	tabular, parts, found := strings.Cut(response, JSONSectionLabel)
	if !found {
		return nil, &ParseError{
			Message: fmt.Sprintf("BOM response has no %q section", JSONSectionLabel),
			Cause:   ErrMissingSectionMarker,
		}
	}

	tabular = strings.ReplaceAll(tabular, TabularSectionLabel, "")
	return &types.BomArtifact{
		TabularText:   strings.TrimSpace(tabular),
		PartsJSONText: strings.TrimSpace(parts),
	}, nil
}

// DroppedPart records an array element rejected by the part schema.
type DroppedPart struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Extraction is the outcome of ExtractParts.
type Extraction struct {
	Parts   []types.Part  `json:"parts"`
	Dropped []DroppedPart `json:"dropped,omitempty"`
}

// ExtractParts parses text as a JSON array of part descriptors.
//
// Elements failing the part schema are dropped individually and listed in
// Dropped. When the array itself cannot be parsed the returned Extraction
// holds an empty list and the error reports the unparsable condition; the
// error is informational and callers may continue with the empty list.
func ExtractParts(text string) (Extraction, error) {
	result := Extraction{Parts: []types.Part{}}

	elements, err := decodeArray(text)
	if err != nil {
		return result, &ParseError{Message: "unparsable parts", Cause: err}
	}

	for i, raw := range elements {
		if err := schemas.ValidatePart(raw); err != nil {
			result.Dropped = append(result.Dropped, DroppedPart{Index: i, Reason: strings.TrimSpace(err.Error())})
			continue
		}
		var part types.Part
		if err := json.Unmarshal(raw, &part); err != nil {
			result.Dropped = append(result.Dropped, DroppedPart{Index: i, Reason: err.Error()})
			continue
		}
		result.Parts = append(result.Parts, part)
	}

	return result, nil
}

// decodeArray decodes the section as a JSON array, tolerating code fences and
// surrounding commentary around the array.
func decodeArray(text string) ([]json.RawMessage, error) {
	cleaned := llm.CleanJSONBlock(text)

	var elements []json.RawMessage
	err := json.Unmarshal([]byte(cleaned), &elements)
	if err == nil {
		return elements, nil
	}

	candidate := llm.ExtractJSONArray(cleaned)
	if candidate == "" || candidate == cleaned {
		return nil, err
	}
	if retryErr := json.Unmarshal([]byte(candidate), &elements); retryErr != nil {
		return nil, err
	}
	return elements, nil
}
