package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStatusTerminal(t *testing.T) {
	terminal := []WorkflowStatus{WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	active := []WorkflowStatus{
		WorkflowStatusPending, WorkflowStatusScanning, WorkflowStatusAssessing,
		WorkflowStatusAwaitingApproval, WorkflowStatusRemediating,
	}
	for _, s := range active {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestStepStatusTerminal(t *testing.T) {
	assert.True(t, StepStatusCompleted.Terminal())
	assert.True(t, StepStatusFailed.Terminal())
	assert.True(t, StepStatusSkipped.Terminal())
	assert.False(t, StepStatusPending.Terminal())
	assert.False(t, StepStatusInProgress.Terminal())
	assert.False(t, StepStatusAwaitingApproval.Terminal())
}

func TestWorkflowRequestNormalizeDefaults(t *testing.T) {
	req := WorkflowRequest{Repository: "org/repo"}
	req.Normalize()

	assert.Equal(t, "main", req.Branch)
	assert.Equal(t, DefaultScanTypes, req.ScanTypes)
	require.NotNil(t, req.AutoRemediate)
	assert.True(t, *req.AutoRemediate)
	require.NotNil(t, req.Notify)
	assert.True(t, *req.Notify)

	// The default slice must not alias the package-level one.
	req.ScanTypes[0] = "mutated"
	assert.Equal(t, "dependency", DefaultScanTypes[0])
}

func TestWorkflowRequestNormalizeKeepsExplicitValues(t *testing.T) {
	off := false
	req := WorkflowRequest{
		Repository:    "org/repo",
		Branch:        "release",
		ScanTypes:     []string{"secret"},
		AutoRemediate: &off,
		Notify:        &off,
	}
	req.Normalize()

	assert.Equal(t, "release", req.Branch)
	assert.Equal(t, []string{"secret"}, req.ScanTypes)
	assert.False(t, *req.AutoRemediate)
	assert.False(t, *req.Notify)
}

func TestWorkflowStepLookup(t *testing.T) {
	wf := &Workflow{Steps: []WorkflowStep{
		{StepID: StepScan},
		{StepID: StepAssess},
	}}

	step := wf.Step(StepAssess)
	require.NotNil(t, step)
	step.Status = StepStatusCompleted
	assert.Equal(t, StepStatusCompleted, wf.Steps[1].Status, "Step returns a pointer into the slice")

	assert.Nil(t, wf.Step("nope"))
}

func TestWorkflowCloneIsolation(t *testing.T) {
	started := time.Now()
	wf := &Workflow{
		ID:     "wf-1",
		Status: WorkflowStatusScanning,
		Steps: []WorkflowStep{
			{
				StepID:    StepScan,
				Status:    StepStatusInProgress,
				Input:     map[string]any{"branch": "main"},
				StartedAt: &started,
			},
		},
		RemediationIDs: []string{"batch-1"},
		Metadata:       WorkflowMetadata{ScanTypes: []string{"code"}},
	}

	cp := wf.Clone()
	cp.Steps[0].Input["branch"] = "other"
	cp.Steps[0].Status = StepStatusCompleted
	*cp.Steps[0].StartedAt = started.Add(time.Hour)
	cp.RemediationIDs[0] = "batch-x"
	cp.Metadata.ScanTypes[0] = "secret"

	assert.Equal(t, "main", wf.Steps[0].Input["branch"])
	assert.Equal(t, StepStatusInProgress, wf.Steps[0].Status)
	assert.True(t, wf.Steps[0].StartedAt.Equal(started))
	assert.Equal(t, "batch-1", wf.RemediationIDs[0])
	assert.Equal(t, "code", wf.Metadata.ScanTypes[0])
}
