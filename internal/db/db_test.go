package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/bom-generator/internal/types"
)

func TestRunUsage(t *testing.T) {
	run := Run{InputTokens: 120, OutputTokens: 45, Calls: 5, Status: StatusCompleted}

	assert.Equal(t, types.UsageSummary{InputTokens: 120, OutputTokens: 45, Calls: 5}, run.Usage())
	assert.Nil(t, run.CompletedAt)
}

func TestNamedDocuments(t *testing.T) {
	docs := []Document{
		{Filename: "BOM.csv", Content: []byte("a,b")},
		{Filename: "Compliance_Cert_X.pdf", Content: []byte("%PDF")},
		{Filename: "Compliance_Cert_X.pdf", Content: []byte("%PDF-2")},
	}

	named := NamedDocuments(docs)

	assert.Equal(t, []types.NamedDocument{
		{Filename: "BOM.csv", Bytes: []byte("a,b")},
		{Filename: "Compliance_Cert_X.pdf", Bytes: []byte("%PDF")},
		{Filename: "Compliance_Cert_X.pdf", Bytes: []byte("%PDF-2")},
	}, named)
}

func TestNamedDocuments_Empty(t *testing.T) {
	assert.Empty(t, NamedDocuments(nil))
}
