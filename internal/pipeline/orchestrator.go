// Package pipeline provides the high-level orchestration for BOM document generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/bom-generator/internal/archive"
	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/metrics"
	"github.com/jonathan/bom-generator/internal/parsing"
	"github.com/jonathan/bom-generator/internal/prompts"
	"github.com/jonathan/bom-generator/internal/rendering"
	"github.com/jonathan/bom-generator/internal/types"
)

// Stage names used in progress events, errors, logs and metrics.
const (
	StageRequest      = "request"
	StageBOM          = "bom"
	StageMaterialSpec = "material_spec"
	StageCertificates = "compliance_certificates"
	StageVendorList   = "vendor_list"
	StageArchive      = "archive"
)

// Fixed archive entry names.
const (
	BOMFilename          = "BOM." + rendering.TableExt
	MaterialSpecFilename = "Material_Specification_Sheet." + rendering.PagesExt
	VendorListFilename   = "Approved_Vendors." + rendering.PagesExt
)

// Run status values handed to the Recorder.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusIncomplete = "incomplete" // archive produced but not every document was recorded
)

// CertificateFilename returns the archive entry name for a part's certificate.
func CertificateFilename(partNumber string) string {
	return fmt.Sprintf("Compliance_Cert_%s.%s", partNumber, rendering.PagesExt)
}

// Recorder persists a run and the documents it produced. A completed run
// stores one document per backend call, so the usage handed to CompleteRun
// also gives the number of documents to expect.
type Recorder interface {
	CreateRun(ctx context.Context, runID uuid.UUID, req types.GenerationRequest) error
	SaveDocument(ctx context.Context, runID uuid.UUID, stage string, doc types.NamedDocument) error
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, usage types.UsageSummary) error
}

// Result is the output of a successful run.
type Result struct {
	RunID     uuid.UUID
	Archive   []byte
	Documents []types.NamedDocument
	Parts     []types.Part
	Dropped   []parsing.DroppedPart
	Usage     types.UsageSummary
}

// Orchestrator runs the four generation stages against a completion backend.
type Orchestrator struct {
	client      llm.Client
	renderer    rendering.Renderer
	logger      *zap.Logger
	concurrency int
	callTimeout time.Duration
	onProgress  ProgressCallback
	recorder    Recorder
}

// New creates an orchestrator. Without options certificate calls run one at
// a time and backend calls are not time-bounded.
func New(client llm.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		renderer:    rendering.NewRenderer(),
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the mutable state of one Run call.
type run struct {
	id       uuid.UUID
	req      types.GenerationRequest
	logger   *zap.Logger
	usage    types.UsageTotals
	mu       sync.Mutex
	progress int
	// unsaved counts documents the recorder failed to store.
	unsaved int
}

// Run validates req, generates every document and returns them packaged as a
// single archive. Any failure aborts the run and no partial archive is
// returned; the error is a *RunError.
func (o *Orchestrator) Run(ctx context.Context, req types.GenerationRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, &RunError{Kind: KindInvalidRequest, Stage: StageRequest, Message: "request rejected", Cause: err}
	}

	r := &run{id: uuid.New(), req: req}
	r.logger = o.logger.With(zap.String("run_id", r.id.String()))
	start := time.Now()

	r.logger.Info("starting generation run",
		zap.String("industry", req.Industry),
		zap.String("product_type", req.ProductType),
		zap.Int("part_count", req.Parts()),
		zap.Int("nesting_depth", req.Depth()),
		zap.Int("concurrency", o.concurrency))

	if o.recorder != nil {
		if err := o.recorder.CreateRun(ctx, r.id, req); err != nil {
			r.logger.Warn("failed to record run", zap.Error(err))
		}
	}

	result, err := o.execute(ctx, r)

	outcome := StatusCompleted
	if err != nil {
		outcome = string(KindBackendFailure)
		if f, ok := Failure(err); ok {
			outcome = string(f.Kind)
		}
	}
	metrics.RecordRun(outcome, start)

	usage := r.usage.Snapshot()
	if o.recorder != nil {
		status := StatusCompleted
		switch {
		case err != nil:
			status = StatusFailed
		case r.unsaved > 0:
			status = StatusIncomplete
			r.logger.Warn("run recorded as incomplete", zap.Int("unsaved_documents", r.unsaved))
		}
		if recErr := o.recorder.CompleteRun(context.WithoutCancel(ctx), r.id, status, usage); recErr != nil {
			r.logger.Warn("failed to record run completion", zap.Error(recErr))
		}
	}

	if err != nil {
		r.logger.Error("generation run failed",
			zap.Error(err),
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens),
			zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	r.logger.Info("generation run complete",
		zap.Int("documents", len(result.Documents)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Int("calls", usage.Calls),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*Result, error) {
	// Stage A: BOM
	o.emit(r, percentStart, StageBOM, "Generating BOM...")
	stageStart := time.Now()
	response, err := o.complete(ctx, r, StageBOM, prompts.BOM(r.req))
	if err != nil {
		return nil, err
	}
	artifact, err := parsing.SplitBOMResponse(response)
	if err != nil {
		return nil, &RunError{
			Kind:    KindMalformedBOM,
			Stage:   StageBOM,
			Message: "BOM response is missing its parts section",
			Cause:   err,
		}
	}
	bomDoc, err := o.renderer.RenderTable(BOMFilename, artifact.TabularText)
	if err != nil {
		return nil, renderFailure(StageBOM, err)
	}
	metrics.ObserveStage(StageBOM, stageStart)

	extraction, extractErr := parsing.ExtractParts(artifact.PartsJSONText)
	if extractErr != nil {
		r.logger.Warn("unparsable parts in BOM response", zap.Error(extractErr))
	}
	for _, dropped := range extraction.Dropped {
		r.logger.Warn("dropped malformed part descriptor",
			zap.Int("index", dropped.Index),
			zap.String("reason", dropped.Reason))
	}
	metrics.PartsResolved.Add(float64(len(extraction.Parts)))
	metrics.PartsDropped.Add(float64(len(extraction.Dropped)))
	r.logger.Info("extracted parts", zap.Int("parts", len(extraction.Parts)), zap.Int("dropped", len(extraction.Dropped)))

	// Stage B: material specification
	o.emit(r, percentBOM, StageMaterialSpec, "Generating Material Specification Sheet...")
	specDoc, err := o.generatePages(ctx, r, StageMaterialSpec, MaterialSpecFilename,
		prompts.MaterialSpec(r.req, artifact.TabularText))
	if err != nil {
		return nil, err
	}

	// Stage C: one certificate per part
	o.emit(r, percentMaterialSpec, StageCertificates, "Generating Product Compliance Certificates...")
	if len(extraction.Parts) == 0 {
		return nil, &RunError{
			Kind:    KindNoPartsResolved,
			Stage:   StageCertificates,
			Message: "BOM response yielded no parts to certify",
			Cause:   extractErr,
		}
	}
	certDocs, err := o.generateCertificates(ctx, r, artifact.TabularText, extraction.Parts)
	if err != nil {
		return nil, err
	}

	// Stage D: approved vendor list
	o.emit(r, percentCertificates, StageVendorList, "Generating Approved Vendor List...")
	vendorDoc, err := o.generatePages(ctx, r, StageVendorList, VendorListFilename,
		prompts.VendorList(r.req, artifact.TabularText))
	if err != nil {
		return nil, err
	}

	o.emit(r, percentDone, StageArchive, "Creating ZIP file...")
	documents := make([]types.NamedDocument, 0, 3+len(certDocs))
	documents = append(documents, bomDoc, specDoc, vendorDoc)
	documents = append(documents, certDocs...)

	data, err := archive.Assemble(documents)
	if err != nil {
		return nil, &RunError{Kind: KindArchiveFailure, Stage: StageArchive, Message: "failed to assemble archive", Cause: err}
	}

	if o.recorder != nil {
		saveCtx := context.WithoutCancel(ctx)
		for i, doc := range documents {
			if err := o.recorder.SaveDocument(saveCtx, r.id, documentStage(i), doc); err != nil {
				r.unsaved++
				r.logger.Warn("failed to record document", zap.String("filename", doc.Filename), zap.Error(err))
			}
		}
	}

	o.emit(r, percentDone, StageArchive, "Generation complete!")

	return &Result{
		RunID:     r.id,
		Archive:   data,
		Documents: documents,
		Parts:     extraction.Parts,
		Dropped:   extraction.Dropped,
		Usage:     r.usage.Snapshot(),
	}, nil
}

// generatePages runs one backend call and renders its text as a paged document.
func (o *Orchestrator) generatePages(ctx context.Context, r *run, stage, filename, prompt string) (types.NamedDocument, error) {
	stageStart := time.Now()
	text, err := o.complete(ctx, r, stage, prompt)
	if err != nil {
		return types.NamedDocument{}, err
	}
	doc, err := o.renderer.RenderPages(filename, text)
	if err != nil {
		return types.NamedDocument{}, renderFailure(stage, err)
	}
	metrics.ObserveStage(stage, stageStart)
	return doc, nil
}

// generateCertificates fans out one call per part, at most o.concurrency at a
// time. Documents are returned in part order whatever the completion order.
func (o *Orchestrator) generateCertificates(ctx context.Context, r *run, bom string, parts []types.Part) ([]types.NamedDocument, error) {
	stageStart := time.Now()
	docs := make([]types.NamedDocument, len(parts))
	errs := make([]error, len(parts))
	done := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, part := range parts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				errs[i] = err
				return err
			}
			doc, err := o.generatePages(gCtx, r, StageCertificates, CertificateFilename(part.PartNumber),
				prompts.ComplianceCert(r.req, bom, part))
			if err != nil {
				errs[i] = err
				return err
			}
			docs[i] = doc

			r.mu.Lock()
			defer r.mu.Unlock()
			done++
			o.emitLocked(r, certificatePercent(done, len(parts)), StageCertificates,
				fmt.Sprintf("Generated compliance certificate %d of %d", done, len(parts)))
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, certificateFailure(ctx, waitErr, errs)
	}
	metrics.ObserveStage(StageCertificates, stageStart)
	return docs, nil
}

// certificateFailure joins the failures of individual certificate calls,
// leaving out siblings that only stopped because another call failed.
func certificateFailure(ctx context.Context, waitErr error, errs []error) error {
	var failures []error
	for _, err := range errs {
		if err == nil || (ctx.Err() == nil && isCancellation(err)) {
			continue
		}
		failures = append(failures, err)
	}

	switch len(failures) {
	case 0:
		return waitErr
	case 1:
		return failures[0]
	}

	first, ok := Failure(failures[0])
	if !ok {
		return errors.Join(failures...)
	}
	return &RunError{
		Kind:    first.Kind,
		Stage:   StageCertificates,
		Message: fmt.Sprintf("%d certificate calls failed", len(failures)),
		Cause:   errors.Join(failures...),
	}
}

func isCancellation(err error) bool {
	if f, ok := Failure(err); ok {
		return f.Kind == KindCanceled
	}
	return errors.Is(err, context.Canceled)
}

// complete performs one backend call under the per-call timeout and records
// its usage.
func (o *Orchestrator) complete(ctx context.Context, r *run, stage, prompt string) (string, error) {
	callCtx := ctx
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	callStart := time.Now()
	res, err := o.client.Complete(callCtx, prompt)
	if err != nil {
		metrics.RecordCall(stage, types.Usage{}, err)
		switch {
		case ctx.Err() != nil:
			return "", &RunError{Kind: KindCanceled, Stage: stage, Message: "run canceled", Cause: err}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return "", &RunError{
				Kind:    KindTimeout,
				Stage:   stage,
				Message: fmt.Sprintf("backend call exceeded %s", o.callTimeout),
				Cause:   err,
			}
		}
		return "", &RunError{
			Kind:    KindBackendFailure,
			Stage:   stage,
			Message: fmt.Sprintf("backend call failed (%s)", llm.KindOf(err)),
			Cause:   err,
		}
	}

	r.usage.Add(res.Usage)
	metrics.RecordCall(stage, res.Usage, nil)
	r.logger.Debug("backend call complete",
		zap.String("stage", stage),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(callStart)))
	return res.Text, nil
}

// emit reports progress, never letting the percentage go backwards.
func (o *Orchestrator) emit(r *run, percent int, stage, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.emitLocked(r, percent, stage, message)
}

// emitLocked is emit for callers already holding r.mu.
func (o *Orchestrator) emitLocked(r *run, percent int, stage, message string) {
	if percent < r.progress {
		percent = r.progress
	}
	r.progress = percent
	if o.onProgress != nil {
		o.onProgress(ProgressEvent{Percent: percent, Stage: stage, Message: message, RunID: r.id.String()})
	}
}

func renderFailure(stage string, err error) error {
	return &RunError{Kind: KindRenderFailure, Stage: stage, Message: "failed to render document", Cause: err}
}

// documentStage maps a document's archive position to the stage that produced it.
func documentStage(i int) string {
	switch i {
	case 0:
		return StageBOM
	case 1:
		return StageMaterialSpec
	case 2:
		return StageVendorList
	default:
		return StageCertificates
	}
}
