package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bom-generator/internal/db"
	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/server/ratelimit"
	"github.com/jonathan/bom-generator/internal/types"
)

const bomResponse = `CSV:
Part Number,Quantity,Total Cost,Vendor,Description
HP-DRIVER-40,2,$ 30.00,Sony Audio,Driver
HP-BT-CHIP,1,$ 20.00,Qualcomm,BT Chip

JSON:
[{"part_number":"HP-DRIVER-40","description":"Driver"},{"part_number":"HP-BT-CHIP","description":"BT Chip"}]`

const validBody = `{"industry":"Electronics","product_type":"Smartwatch","part_count":2,"nesting_depth":1}`

// mockClient answers BOM prompts with bom and every other prompt with plain text.
type mockClient struct {
	mu    sync.Mutex
	bom   string
	err   error
	calls int
}

func (m *mockClient) Complete(_ context.Context, prompt string) (*types.CompletionResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	text := "Generated document\nLine two"
	if strings.Contains(prompt, "Bill of Materials") {
		text = m.bom
	}
	return &types.CompletionResult{Text: text, Usage: types.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}

func (m *mockClient) Model() string { return "mock" }
func (m *mockClient) Close() error  { return nil }

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockStore keeps runs and documents in memory.
type mockStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*db.Run
	docs map[uuid.UUID][]db.Document
	err  error
	// saveErr fails only SaveDocument.
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		runs: make(map[uuid.UUID]*db.Run),
		docs: make(map[uuid.UUID][]db.Document),
	}
}

func (m *mockStore) CreateRun(_ context.Context, runID uuid.UUID, req types.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = &db.Run{
		ID:           runID,
		Industry:     req.Industry,
		ProductType:  req.ProductType,
		PartCount:    req.Parts(),
		NestingDepth: req.Depth(),
		Status:       db.StatusRunning,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (m *mockStore) SaveDocument(_ context.Context, runID uuid.UUID, stage string, doc types.NamedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[runID] = append(m.docs[runID], db.Document{
		ID:       int64(len(m.docs[runID]) + 1),
		RunID:    runID,
		Stage:    stage,
		Filename: doc.Filename,
		Content:  doc.Bytes,
	})
	return nil
}

func (m *mockStore) CompleteRun(_ context.Context, runID uuid.UUID, status string, usage types.UsageSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	run.Status = status
	run.InputTokens = usage.InputTokens
	run.OutputTokens = usage.OutputTokens
	run.Calls = usage.Calls
	return nil
}

func (m *mockStore) GetRun(_ context.Context, runID uuid.UUID) (*db.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (m *mockStore) ListRuns(_ context.Context, filters db.RunFilters) ([]db.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	runs := []db.Run{}
	for _, run := range m.runs {
		if filters.Status == "" || run.Status == filters.Status {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

func (m *mockStore) ListDocuments(_ context.Context, runID uuid.UUID) ([]db.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[runID], nil
}

// mockUploader records uploads.
type mockUploader struct {
	keys []string
	err  error
}

func (m *mockUploader) Upload(_ context.Context, key string, _ []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "s3://bucket/" + key, nil
}

func newTestServer(client llm.Client, opts ...Option) *Server {
	opts = append([]Option{WithRateLimiter(ratelimit.NewLimiter(&ratelimit.Config{Enabled: false}))}, opts...)
	return New(Config{Port: 0, Concurrency: 2}, client, opts...)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})
	rec := do(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleIndustries(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})
	rec := do(t, s, http.MethodGet, "/industries", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Industries []types.Industry `json:"industries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, types.Industries, body.Industries)
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})
	do(t, s, http.MethodGet, "/health", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bom_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})
	rec := do(t, s, http.MethodOptions, "/runs", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleRun_Success(t *testing.T) {
	client := &mockClient{bom: bomResponse}
	s := newTestServer(client)

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "output_files.zip")
	_, err := uuid.Parse(rec.Header().Get("X-Run-ID"))
	assert.NoError(t, err)
	assert.Equal(t, "50", rec.Header().Get("X-Input-Tokens"))
	assert.Equal(t, "100", rec.Header().Get("X-Output-Tokens"))
	assert.Empty(t, rec.Header().Get("X-Archive-Location"))

	assert.Equal(t, []string{
		"BOM.csv",
		"Material_Specification_Sheet.pdf",
		"Approved_Vendors.pdf",
		"Compliance_Cert_HP-DRIVER-40.pdf",
		"Compliance_Cert_HP-BT-CHIP.pdf",
	}, zipNames(t, rec.Body.Bytes()))
	assert.Equal(t, 5, client.callCount())
}

func TestHandleRun_InvalidRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"malformed JSON", `{"industry":`, "body"},
		{"missing industry", `{"product_type":"Smartwatch","part_count":2,"nesting_depth":1}`, "industry"},
		{"blank product type", `{"industry":"Electronics","product_type":"  ","part_count":2,"nesting_depth":1}`, "product_type"},
		{"part count too high", `{"industry":"Electronics","product_type":"Smartwatch","part_count":26,"nesting_depth":1}`, "part_count"},
		{"missing depth", `{"industry":"Electronics","product_type":"Smartwatch","part_count":2}`, "nesting_depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{bom: bomResponse}
			s := newTestServer(client)

			rec := do(t, s, http.MethodPost, "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec).Error, tt.wantField)
			assert.Zero(t, client.callCount())
		})
	}
}

func TestHandleRun_Failures(t *testing.T) {
	tests := []struct {
		name        string
		client      *mockClient
		wantStatus  int
		wantKind    string
		wantBackend string
	}{
		{
			name:        "backend failure",
			client:      &mockClient{err: &llm.APIError{Kind: llm.KindTransient, Message: "unavailable"}},
			wantStatus:  http.StatusBadGateway,
			wantKind:    "backend_failure",
			wantBackend: "transient",
		},
		{
			name:        "backend rate limited",
			client:      &mockClient{err: &llm.APIError{Kind: llm.KindRateLimit, Message: "quota"}},
			wantStatus:  http.StatusTooManyRequests,
			wantKind:    "backend_failure",
			wantBackend: "rate_limit",
		},
		{
			name:       "missing parts section",
			client:     &mockClient{bom: "CSV:\nPart Number\nA-1"},
			wantStatus: http.StatusBadGateway,
			wantKind:   "malformed_bom_response",
		},
		{
			name:       "no parts",
			client:     &mockClient{bom: "CSV:\nPart Number\nJSON:\n[]"},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "no_parts_resolved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.client)

			rec := do(t, s, http.MethodPost, "/runs", validBody)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.wantBackend, body.Backend)
			assert.NotEmpty(t, body.Stage)
		})
	}
}

func TestHandleRun_Upload(t *testing.T) {
	uploader := &mockUploader{}
	s := newTestServer(&mockClient{bom: bomResponse}, WithUploader(uploader))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusOK, rec.Code)

	runID := rec.Header().Get("X-Run-ID")
	require.Len(t, uploader.keys, 1)
	assert.Equal(t, runID+".zip", uploader.keys[0])
	assert.Equal(t, "s3://bucket/"+runID+".zip", rec.Header().Get("X-Archive-Location"))
}

func TestHandleRun_UploadFailureNotFatal(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse}, WithUploader(&mockUploader{err: errors.New("access denied")}))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Archive-Location"))
}

func TestHandleRunStream(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})

	rec := do(t, s, http.MethodPost, "/runs/stream", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "Generating BOM...")
	assert.Contains(t, body, "Generation complete!")
	assert.Contains(t, body, "event: complete")
	assert.NotContains(t, body, "event: error")

	events := strings.Split(strings.TrimSpace(body), "\n\n")
	last := events[len(events)-1]
	require.True(t, strings.HasPrefix(last, "event: complete\ndata: "))

	var resp RunResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(last, "event: complete\ndata: ")), &resp))
	assert.Len(t, resp.Documents, 5)
	assert.Len(t, resp.Parts, 2)
	assert.Equal(t, 5, resp.Usage.Calls)
	assert.Len(t, zipNames(t, resp.Archive), 5)
}

func TestHandleRunStream_Error(t *testing.T) {
	s := newTestServer(&mockClient{bom: "no markers here"})

	rec := do(t, s, http.MethodPost, "/runs/stream", validBody)
	body := rec.Body.String()

	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "malformed_bom_response")
	assert.NotContains(t, body, "event: complete")
}

func TestHandleRunStream_InvalidRequest(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})

	rec := do(t, s, http.MethodPost, "/runs/stream", `{"industry":"Electronics"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRunHistory_WithoutStore(t *testing.T) {
	s := newTestServer(&mockClient{bom: bomResponse})

	for _, path := range []string{"/runs", "/runs/" + uuid.NewString(), "/runs/" + uuid.NewString() + "/archive"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestRunHistory(t *testing.T) {
	store := newMockStore()
	s := newTestServer(&mockClient{bom: bomResponse}, WithStore(store))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := rec.Header().Get("X-Run-ID")
	original := rec.Body.Bytes()

	t.Run("list", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs?status=completed", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Runs  []db.Run `json:"runs"`
			Count int      `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, runID, body.Runs[0].ID.String())
		assert.Equal(t, 50, body.Runs[0].InputTokens)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs/"+runID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var detail RunDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		assert.Equal(t, db.StatusCompleted, detail.Status)
		require.Len(t, detail.Documents, 5)
		assert.Equal(t, "bom", detail.Documents[0].Stage)
		assert.Equal(t, "BOM.csv", detail.Documents[0].Filename)
		assert.Positive(t, detail.Documents[4].Size)
	})

	t.Run("archive rebuilt identically", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs/"+runID+"/archive", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, original, rec.Body.Bytes())
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/runs/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunHistory_FailedRunHasNoArchive(t *testing.T) {
	store := newMockStore()
	s := newTestServer(&mockClient{bom: "no markers"}, WithStore(store))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	runs, err := store.ListRuns(context.Background(), db.RunFilters{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.StatusFailed, runs[0].Status)

	rec = do(t, s, http.MethodGet, "/runs/"+runs[0].ID.String()+"/archive", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunHistory_UnsavedDocumentsHaveNoArchive(t *testing.T) {
	store := newMockStore()
	store.saveErr = errors.New("disk full")
	s := newTestServer(&mockClient{bom: bomResponse}, WithStore(store))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := rec.Header().Get("X-Run-ID")

	rec = do(t, s, http.MethodGet, "/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, db.StatusIncomplete, detail.Status)
	assert.Empty(t, detail.Documents)

	rec = do(t, s, http.MethodGet, "/runs/"+runID+"/archive", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunHistory_MissingDocumentRefusesArchive(t *testing.T) {
	store := newMockStore()
	s := newTestServer(&mockClient{bom: bomResponse}, WithStore(store))

	rec := do(t, s, http.MethodPost, "/runs", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := uuid.MustParse(rec.Header().Get("X-Run-ID"))

	store.mu.Lock()
	store.docs[runID] = store.docs[runID][:4]
	store.mu.Unlock()

	rec = do(t, s, http.MethodGet, "/runs/"+runID.String()+"/archive", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "4 of 5 documents")
}

func TestRunHistory_StoreError(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("connection refused")
	s := newTestServer(&mockClient{bom: bomResponse}, WithStore(store))

	rec := do(t, s, http.MethodGet, "/runs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "connection refused")
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/runs", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
		},
	})
	defer limiter.Stop()
	client := &mockClient{bom: bomResponse}
	s := New(Config{}, client, WithRateLimiter(limiter))

	first := do(t, s, http.MethodPost, "/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do(t, s, http.MethodPost, "/runs", validBody)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Zero(t, client.callCount())

	health := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
}
