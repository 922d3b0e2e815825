package prompts

import (
	"strconv"

	"github.com/jonathan/bom-generator/internal/types"
)

const stageFile = "bom.json"

// BOMExample returns the reference BOM embedded in the stage-A prompt.
func BOMExample() string {
	return MustGet(stageFile, "bom-example")
}

// BOM builds the stage-A prompt that asks for the tabular BOM followed by
// the JSON parts array.
func BOM(req types.GenerationRequest) string {
	return Format(MustGet(stageFile, "bom"), map[string]string{
		"Industry":     req.Industry,
		"ProductType":  req.ProductType,
		"PartCount":    strconv.Itoa(req.Parts()),
		"NestingDepth": strconv.Itoa(req.Depth()),
		"Example":      BOMExample(),
	})
}

// MaterialSpec builds the material specification prompt.
func MaterialSpec(req types.GenerationRequest, bom string) string {
	return Format(MustGet(stageFile, "material-spec"), map[string]string{
		"BOM":         bom,
		"Industry":    req.Industry,
		"ProductType": req.ProductType,
	})
}

// ComplianceCert builds the certificate prompt for a single part.
func ComplianceCert(req types.GenerationRequest, bom string, part types.Part) string {
	return Format(MustGet(stageFile, "compliance-cert"), map[string]string{
		"BOM":         bom,
		"PartNumber":  part.PartNumber,
		"Description": part.Description,
		"ProductType": req.ProductType,
	})
}

// VendorList builds the approved vendor list prompt.
func VendorList(req types.GenerationRequest, bom string) string {
	return Format(MustGet(stageFile, "vendor-list"), map[string]string{
		"BOM":         bom,
		"ProductType": req.ProductType,
	})
}
