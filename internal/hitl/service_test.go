package hitl

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/notifications"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// recordingNotifier captures notifications, optionally failing them.
type recordingNotifier struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (n *recordingNotifier) ApprovalRequested(_ context.Context, a *models.ApprovalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("webhook unreachable")
	}
	n.got = append(n.got, a.ID)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.got...)
}

func newTestService(notifier notifications.Notifier) (*Service, *repository.MemoryApprovalStore) {
	logger := logging.NewWithWriter(io.Discard)
	store := repository.NewMemoryApprovalStore()
	return NewService(store, audit.NewLog(logger), notifier, 24*time.Hour, logger), store
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})

	_, err := svc.Create(context.Background(), CreateRequest{Title: "t"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})

	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch things"})
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusPending, a.Status)
	assert.Equal(t, models.PriorityP2, a.Priority)
	assert.Equal(t, "system", a.RequestedBy)
	require.NotNil(t, a.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *a.ExpiresAt, time.Minute)
}

func TestCreateNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sent := notifier.sent()
		return len(sent) == 1 && sent[0] == a.ID
	}, time.Second, 10*time.Millisecond)
}

func TestCreateSkipNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	_, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch", SkipNotify: true})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, notifier.sent())
}

func TestNotifierFailureDoesNotFailCreate(t *testing.T) {
	svc, _ := newTestService(&recordingNotifier{fail: true})

	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, got.Status)
}

func TestDecideApprove(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})
	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	resolved, err := svc.Decide(context.Background(), a.ID, models.ApprovalDecision{
		Approved: true,
		Resolver: "alice@example.com",
		Comment:  "ship it",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "alice@example.com", resolved.ResolvedBy)
	assert.Equal(t, "ship it", resolved.ResolutionComment)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestDecideRequiresResolver(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})
	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), a.ID, models.ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestDecideIsWriteOnce(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})
	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), a.ID, models.ApprovalDecision{Approved: false, Resolver: "alice"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), a.ID, models.ApprovalDecision{Approved: true, Resolver: "bob"})
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestConcurrentDecideSingleWinner(t *testing.T) {
	svc, _ := newTestService(notifications.NopNotifier{})
	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	const n = 16
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Decide(context.Background(), a.ID, models.ApprovalDecision{Approved: true, Resolver: "racer"})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	wins := 0
	for err := range errCh {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, errs.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestLazyExpiryOnGet(t *testing.T) {
	svc, store := newTestService(notifications.NopNotifier{})
	a, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "patch"})
	require.NoError(t, err)

	// Backdate the deadline.
	_, err = store.Update(context.Background(), a.ID, func(stored *models.ApprovalRequest) error {
		past := time.Now().UTC().Add(-time.Hour)
		stored.ExpiresAt = &past
		return nil
	})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, got.Status)

	_, err = svc.Decide(context.Background(), a.ID, models.ApprovalDecision{Approved: true, Resolver: "alice"})
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestListPendingDropsExpired(t *testing.T) {
	svc, store := newTestService(notifications.NopNotifier{})

	fresh, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-1", Title: "fresh"})
	require.NoError(t, err)
	stale, err := svc.Create(context.Background(), CreateRequest{WorkflowID: "wf-2", Title: "stale"})
	require.NoError(t, err)

	_, err = store.Update(context.Background(), stale.ID, func(stored *models.ApprovalRequest) error {
		past := time.Now().UTC().Add(-time.Minute)
		stored.ExpiresAt = &past
		return nil
	})
	require.NoError(t, err)

	pending, err := svc.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)
}
