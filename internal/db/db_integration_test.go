//go:build integration

package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bom-generator/internal/types"
)

func setupTestDB(t *testing.T) *DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func TestRunLifecycle_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	runID := uuid.New()
	req := types.NewGenerationRequest("Electronics", "Smartwatch", 2, 1)
	require.NoError(t, db.CreateRun(ctx, runID, req))
	defer func() { _ = db.DeleteRun(ctx, runID) }()

	run, err := db.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "Smartwatch", run.ProductType)
	assert.Equal(t, 2, run.PartCount)
	assert.Equal(t, 1, run.NestingDepth)

	docs := []types.NamedDocument{
		{Filename: "BOM.csv", Bytes: []byte("a,b")},
		{Filename: "Compliance_Cert_X.pdf", Bytes: []byte("one")},
		{Filename: "Compliance_Cert_X.pdf", Bytes: []byte("two")},
	}
	for _, doc := range docs {
		require.NoError(t, db.SaveDocument(ctx, runID, "stage", doc))
	}

	usage := types.UsageSummary{InputTokens: 300, OutputTokens: 120, Calls: 5}
	require.NoError(t, db.CompleteRun(ctx, runID, StatusCompleted, usage))

	run, err = db.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, usage, run.Usage())
	assert.NotNil(t, run.CompletedAt)

	stored, err := db.ListDocuments(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, docs, NamedDocuments(stored))

	runs, err := db.ListRuns(ctx, RunFilters{Status: StatusCompleted, Limit: 100})
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.ID == runID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetRun_NotFound_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	run, err := db.GetRun(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, run)
}
