// Package types provides type definitions for structured data used throughout the bom-generator system.
package types

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Part count and nesting depth bounds accepted by a GenerationRequest.
const (
	MinPartCount    = 1
	MaxPartCount    = 25
	MinNestingDepth = 0
	MaxNestingDepth = 3
)

// GenerationRequest holds the four user parameters that drive one pipeline run.
// PartCount and NestingDepth are pointers so that an absent field can be told
// apart from an explicit zero depth.
type GenerationRequest struct {
	Industry     string `json:"industry" yaml:"industry" validate:"required"`
	ProductType  string `json:"product_type" yaml:"product_type" validate:"required"`
	PartCount    *int   `json:"part_count" yaml:"part_count" validate:"required,min=1,max=25"`
	NestingDepth *int   `json:"nesting_depth" yaml:"nesting_depth" validate:"required,min=0,max=3"`
}

// NewGenerationRequest builds a request with all four fields set.
func NewGenerationRequest(industry, productType string, partCount, nestingDepth int) GenerationRequest {
	return GenerationRequest{
		Industry:     industry,
		ProductType:  productType,
		PartCount:    &partCount,
		NestingDepth: &nestingDepth,
	}
}

// Parts returns the requested part count, or 0 when unset.
func (r GenerationRequest) Parts() int {
	if r.PartCount == nil {
		return 0
	}
	return *r.PartCount
}

// Depth returns the requested nesting depth, or 0 when unset.
func (r GenerationRequest) Depth() int {
	if r.NestingDepth == nil {
		return 0
	}
	return *r.NestingDepth
}

// ValidationError represents a request field that is absent or out of bounds
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

var validate = validator.New()

// Validate checks the request against its declared bounds. Blank text fields
// are rejected the same way as missing ones.
func (r *GenerationRequest) Validate() error {
	trimmed := *r
	trimmed.Industry = strings.TrimSpace(r.Industry)
	trimmed.ProductType = strings.TrimSpace(r.ProductType)

	err := validate.Struct(&trimmed)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: jsonFieldName(fe.Field()), Message: describeTag(fe)}
}

func jsonFieldName(field string) string {
	switch field {
	case "Industry":
		return "industry"
	case "ProductType":
		return "product_type"
	case "PartCount":
		return "part_count"
	case "NestingDepth":
		return "nesting_depth"
	default:
		return strings.ToLower(field)
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Usage is the token-usage record of a single completion call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResult is the generated text plus usage returned by one backend call
type CompletionResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// BomArtifact is the stage-A response split into its two labeled sections.
type BomArtifact struct {
	TabularText   string `json:"tabular_text"`
	PartsJSONText string `json:"parts_json_text"`
}

// Part is one entry of the parts array emitted alongside the BOM.
type Part struct {
	PartNumber  string `json:"part_number"`
	Description string `json:"description"`
}

// NamedDocument is a filename plus its rendered bytes.
type NamedDocument struct {
	Filename string `json:"filename"`
	Bytes    []byte `json:"-"`
}

// Size returns the document length in bytes.
func (d NamedDocument) Size() int {
	return len(d.Bytes)
}

// UsageTotals accumulates token usage across every call in one run.
// It is safe for concurrent use.
type UsageTotals struct {
	mu           sync.Mutex
	inputTokens  int
	outputTokens int
	calls        int
}

// Add records the usage of one completion call.
func (u *UsageTotals) Add(usage Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputTokens += usage.InputTokens
	u.outputTokens += usage.OutputTokens
	u.calls++
}

// Snapshot returns the current totals.
func (u *UsageTotals) Snapshot() UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSummary{
		InputTokens:  u.inputTokens,
		OutputTokens: u.outputTokens,
		Calls:        u.calls,
	}
}

// UsageSummary is an immutable view of UsageTotals
type UsageSummary struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Calls        int `json:"calls"`
}

// String formats the summary the way it is reported to users.
func (s UsageSummary) String() string {
	return fmt.Sprintf("Input: %d, Output: %d", s.InputTokens, s.OutputTokens)
}
