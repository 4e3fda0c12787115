package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lifecare-cli/internal/ingest"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

const researchFile = `{
  "dme": [
    {"item_name": "Standard walker", "price": "$125", "replacement_frequency": "annually",
     "sources": ["https://example.com/walker"], "confidence_score": 0.9}
  ],
  "medications": [
    {"item_service": "Baclofen 10mg", "cost_per_unit": 30, "frequency": "monthly",
     "sources": ["https://example.com/baclofen"], "confidence_score": 0.95}
  ]
}`

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetOut(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustExecute[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, "lifecare %v", args)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestCLI_ReviewToFinalize(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "store:\n  driver: sqlite\n  database_url: " + filepath.Join(tmpDir, "lifecare.db") +
		"\nlog:\n  level: error\n  format: console\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(configContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "research.json"), []byte(researchFile), 0o644))

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir)
	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	plan := mustExecute[model.LifeCarePlan](t, "plan", "create", "--case-id", "case-42")
	require.NotEmpty(t, plan.ID)
	assert.Equal(t, model.PlanStatusDraft, plan.Status)

	report := mustExecute[ingest.Report](t, "ingest", plan.ID, "research.json")
	require.Len(t, report.Admitted, 2)
	assert.Empty(t, report.Rejected)
	walkerID := report.Admitted[0]

	bulk := mustExecute[workflow.BulkResult](t, "bulk-approve", plan.ID, "--category", "medications", "--actor", "dr.smith")
	assert.Equal(t, []string{report.Admitted[1]}, bulk.Approved)

	progress := mustExecute[model.Completion](t, "progress", plan.ID)
	assert.False(t, progress.ReadyForFinalization)
	require.Len(t, progress.Unresolved, 1)
	assert.Equal(t, walkerID, progress.Unresolved[0].ItemID)

	res := mustExecute[workflow.Result](t, "item", "edit-cost", plan.ID, walkerID, "--cost", "140", "--actor", "dr.smith")
	assert.InDelta(t, 140.0, res.Item.UnitCost, 1e-9)

	res = mustExecute[workflow.Result](t, "item", "status", plan.ID, walkerID, "--status", "approved", "--actor", "dr.smith")
	assert.Equal(t, model.StatusApproved, res.Item.Status)

	summary := mustExecute[model.Summary](t, "summary", plan.ID)
	assert.InDelta(t, 140.0+360.0, summary.ApprovedAnnualTotal, 1e-9)
	assert.InDelta(t, 100.0, summary.CompletionPercentage, 1e-9)

	entries := mustExecute[[]model.AuditLogEntry](t, "item", "audit", plan.ID, walkerID)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditCostEdit, entries[0].Action)
	assert.Equal(t, model.AuditStatusChange, entries[1].Action)

	finalized := mustExecute[model.LifeCarePlan](t, "finalize", plan.ID, "--signature", "Dr. Smith", "--actor", "dr.smith")
	assert.Equal(t, model.PlanStatusFinalized, finalized.Status)
	assert.Equal(t, "Dr. Smith", finalized.Signature)

	_, err := execute(t, "item", "reopen", plan.ID, walkerID, "--actor", "dr.smith")
	require.Error(t, err)
	assert.True(t, model.IsPlanFinalized(err))

	out, err := execute(t, "report", plan.ID, "--format", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "Standard walker")
	assert.Contains(t, out, "Baclofen 10mg")
}
