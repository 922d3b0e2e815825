package pipeline

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs. Calls are
// serialized and Percent never decreases within a run.
type ProgressCallback func(event ProgressEvent)

// Progress milestones.
const (
	percentStart        = 0
	percentBOM          = 25
	percentMaterialSpec = 50
	percentCertificates = 75
	percentDone         = 100
)

// certificatePercent is the progress after done of total certificates.
func certificatePercent(done, total int) int {
	if total == 0 {
		return percentMaterialSpec
	}
	return percentMaterialSpec + done*(percentCertificates-percentMaterialSpec)/total
}
