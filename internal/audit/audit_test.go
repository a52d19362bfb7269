package audit

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

func newTestLog() *Log {
	return NewLog(logging.NewWithWriter(io.Discard))
}

func TestAppendRecordsSuccessAndFailure(t *testing.T) {
	l := newTestLog()

	ok := l.Append(Record{Action: models.AuditScanStarted, Actor: "orchestrator", WorkflowID: "wf-1"})
	assert.True(t, ok.Success)
	assert.NotEmpty(t, ok.ID)
	assert.False(t, ok.Timestamp.IsZero())

	bad := l.Append(Record{
		Action:     models.AuditRemediationFailed,
		Actor:      "auto-remediation",
		WorkflowID: "wf-1",
		Err:        errors.New("patch rejected"),
	})
	assert.False(t, bad.Success)
	assert.Equal(t, "patch rejected", bad.ErrorMessage)
}

func TestQueryNewestFirst(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-1"})
	l.Append(Record{Action: models.AuditScanCompleted, Actor: "a", WorkflowID: "wf-1"})
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-2"})

	entries := l.Query(Filter{WorkflowID: "wf-1"}, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditScanCompleted, entries[0].Action)
	assert.Equal(t, models.AuditScanStarted, entries[1].Action)
}

func TestQueryFilters(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditApprovalGranted, Actor: "alice", ApprovalID: "ap-1"})
	l.Append(Record{Action: models.AuditApprovalDenied, Actor: "bob", ApprovalID: "ap-2"})
	l.Append(Record{Action: models.AuditVulnerabilityDetected, Actor: "scanner", VulnerabilityID: "v-1"})

	byActor := l.Query(Filter{Actor: "alice"}, 0)
	require.Len(t, byActor, 1)
	assert.Equal(t, "ap-1", byActor[0].ApprovalID)

	byAction := l.Query(Filter{Action: models.AuditApprovalDenied}, 0)
	require.Len(t, byAction, 1)

	byVuln := l.Query(Filter{VulnerabilityID: "v-1"}, 0)
	require.Len(t, byVuln, 1)
}

func TestQueryLimit(t *testing.T) {
	l := newTestLog()
	for i := 0; i < 10; i++ {
		l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-1"})
	}
	assert.Len(t, l.Query(Filter{}, 3), 3)
}

func TestQuerySince(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a"})
	cut := time.Now().UTC().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	l.Append(Record{Action: models.AuditScanCompleted, Actor: "a"})

	entries := l.Query(Filter{Since: &cut}, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditScanCompleted, entries[0].Action)
}

func TestTimelineChronological(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-1"})
	l.Append(Record{Action: models.AuditScanCompleted, Actor: "a", WorkflowID: "wf-1"})
	l.Append(Record{Action: models.AuditWorkflowCompleted, Actor: "a", WorkflowID: "wf-1"})

	timeline := l.Timeline("wf-1")
	require.Len(t, timeline, 3)
	assert.Equal(t, models.AuditScanStarted, timeline[0].Action)
	assert.Equal(t, models.AuditWorkflowCompleted, timeline[2].Action)
}

func TestCommentsThread(t *testing.T) {
	l := newTestLog()

	c1 := l.AddComment("workflow", "wf-1", "alice", "first", nil)
	c2 := l.AddComment("workflow", "wf-1", "bob", "second", []string{"alice"})
	l.AddComment("approval", "ap-1", "carol", "elsewhere", nil)

	thread := l.Comments("wf-1")
	require.Len(t, thread, 2)
	assert.Equal(t, c1.ID, thread[0].ID)
	assert.Equal(t, c2.ID, thread[1].ID)
	assert.Equal(t, []string{"alice"}, thread[1].Mentions)

	// Adding a comment leaves an audit entry.
	entries := l.Query(Filter{Action: models.AuditCommentAdded}, 0)
	assert.Len(t, entries, 3)
}

func TestEditCommentAuthorOnly(t *testing.T) {
	l := newTestLog()
	c := l.AddComment("workflow", "wf-1", "alice", "draft", nil)

	edited, err := l.EditComment(c.ID, "final", "alice")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	require.NotNil(t, edited.EditedAt)

	_, err = l.EditComment(c.ID, "sneaky", "bob")
	require.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = l.EditComment("missing", "x", "alice")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestExportJSON(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-1"})

	out, err := l.Export("wf-1", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"scan_started"`)
}

func TestExportCSV(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a", WorkflowID: "wf-1"})
	l.Append(Record{Action: models.AuditScanCompleted, Actor: "a", WorkflowID: "wf-1"})

	out, err := l.Export("wf-1", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,action,actor,workflow_id,vulnerability_id,success", lines[0])
	// Exports are newest first, matching Query.
	assert.Contains(t, lines[1], "scan_completed")
	assert.Contains(t, lines[2], "scan_started")
}

func TestExportCSVQuotesFields(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "smith, jane", WorkflowID: "wf-1"})

	out, err := l.Export("wf-1", "csv")
	require.NoError(t, err)

	r := csv.NewReader(strings.NewReader(out))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "smith, jane", rows[1][2])
}

func TestExportUnknownFormat(t *testing.T) {
	l := newTestLog()
	_, err := l.Export("", "xml")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestStats(t *testing.T) {
	l := newTestLog()
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a"})
	l.Append(Record{Action: models.AuditScanStarted, Actor: "a"})
	l.AddComment("workflow", "wf-1", "alice", "note", nil)

	stats := l.Stats()
	assert.Equal(t, 3, stats["total_entries"]) // two appends plus comment_added
	assert.Equal(t, 1, stats["total_comments"])
	byAction := stats["by_action"].(map[string]int)
	assert.Equal(t, 2, byAction["scan_started"])
}
