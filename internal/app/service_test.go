package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbook/api/internal/config"
	"playbook/api/internal/notify"
	"playbook/api/internal/rbac"
	"playbook/api/internal/reconcile"
	"playbook/api/internal/search"
	"playbook/api/internal/store"
	"playbook/api/internal/testutil"
)

type fakePublisher struct {
	mu      sync.Mutex
	events  []notify.SyncEvent
	err     error
	pingErr error
}

func (f *fakePublisher) LastSync(_ context.Context, extractionID string) (notify.SyncEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].ExtractionID == extractionID {
			return f.events[i], true, nil
		}
	}
	return notify.SyncEvent{}, false, nil
}

func (f *fakePublisher) Ping(context.Context) error { return f.pingErr }

func (f *fakePublisher) PublishSync(_ context.Context, event notify.SyncEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type fakeIndexer struct {
	indexed   []search.TaskRecord
	deleted   []string
	err       error
	unhealthy bool
}

func (f *fakeIndexer) IndexTasks(tasks []search.TaskRecord) error {
	f.indexed = append(f.indexed, tasks...)
	return f.err
}

func (f *fakeIndexer) DeleteTasks(ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return f.err
}

func (f *fakeIndexer) Healthy() bool { return !f.unhealthy }

type fakeBlobs struct {
	removed []string
	err     error
}

func (f *fakeBlobs) RemoveObjects(_ context.Context, keys []string) error {
	f.removed = append(f.removed, keys...)
	return f.err
}

type fakeSyncer struct {
	err error
}

func (f fakeSyncer) Reconcile(context.Context, string, string, []store.Phase, ...reconcile.Option) (reconcile.Result, error) {
	return reconcile.Result{}, f.err
}

type serviceFixture struct {
	store     *store.Store
	service   *Service
	publisher *fakePublisher
	indexer   *fakeIndexer
	blobs     *fakeBlobs
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	testutil.SeedExtraction(t, s, "ext_1", "alice")
	cfg := config.Config{DefaultPhases: []config.PhaseTemplate{{Title: "Getting started", Items: []string{"Read the brief"}}}}

	f := serviceFixture{store: s, publisher: &fakePublisher{}, indexer: &fakeIndexer{}, blobs: &fakeBlobs{}}
	f.service = New(cfg, s, WithPublisher(f.publisher), WithIndexer(f.indexer), WithBlobStore(f.blobs))
	return f
}

func (f serviceFixture) share(t *testing.T, userID, role string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.UpdateVisibility(ctx, "ext_1", store.VisibilityCircle))
	require.NoError(t, f.store.UpsertMember(ctx, "ext_1", userID, role))
}

func requireDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected a domain error, got %v", err)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
}

func TestSyncPhasesRunsHooks(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.SyncPhases(ctx, "ext_1", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft", "Review"}}})
	require.NoError(t, err)
	require.Len(t, first.Tasks, 2)
	review := first.Tasks[1].ID
	require.NoError(t, f.store.AddAttachment(ctx, store.Attachment{ID: "att_1", TaskID: review, UserID: "alice", FileName: "r.pdf", StorageKey: "att/r.pdf"}))

	second, err := f.service.SyncPhases(ctx, "ext_1", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{review}, second.Deleted)

	require.Len(t, f.publisher.events, 2)
	last := f.publisher.events[1]
	assert.Equal(t, "ext_1", last.ExtractionID)
	assert.Equal(t, "alice", last.ActorID)
	assert.Equal(t, 1, last.TaskCount)
	assert.Equal(t, []string{review}, last.Deleted)

	assert.Equal(t, []string{review}, f.indexer.deleted)
	assert.Len(t, f.indexer.indexed, 3)
	assert.Equal(t, []string{"att/r.pdf"}, f.blobs.removed)
}

func TestSyncPhasesHookFailuresDoNotFailSync(t *testing.T) {
	f := newServiceFixture(t)
	f.publisher.err = errors.New("redis down")
	f.indexer.err = errors.New("meili down")

	result, err := f.service.SyncPhases(context.Background(), "ext_1", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	require.NoError(t, err)
	assert.Len(t, result.Tasks, 1)
}

func TestSyncPhasesUsesConfiguredFallback(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.service.SyncPhases(context.Background(), "ext_1", "alice", []store.Phase{{Title: " ", Items: []string{" "}}})
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "Read the brief", result.Tasks[0].ItemText)
}

func TestSyncPhasesGate(t *testing.T) {
	f := newServiceFixture(t)
	f.share(t, "bob", "editor")
	f.share(t, "erin", "viewer")
	phases := []store.Phase{{Title: "Prep", Items: []string{"Draft"}}}

	_, err := f.service.SyncPhases(context.Background(), "ext_1", "bob", phases)
	require.NoError(t, err)

	_, err = f.service.SyncPhases(context.Background(), "ext_1", "erin", phases)
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = f.service.SyncPhases(context.Background(), "ext_1", "mallory", phases)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestSyncPhasesFailureMapsToSyncFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.service.sync = fakeSyncer{err: fmt.Errorf("%w: %w", reconcile.ErrSyncFailed, errors.New("deadlock"))}

	_, err := f.service.SyncPhases(context.Background(), "ext_1", "alice", nil)
	requireDomainError(t, err, http.StatusInternalServerError, "SYNC_FAILED")
	assert.Empty(t, f.publisher.events)
}

func TestGetPlaybookHidesExistence(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.GetPlaybook(ctx, "ext_1", "mallory")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = f.service.GetPlaybook(ctx, "ext_missing", "alice")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	playbook, err := f.service.GetPlaybook(ctx, "ext_1", "alice")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, playbook.Role)
	assert.Equal(t, "ext_1", playbook.Extraction.ID)
}

func TestUpdateTask(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.share(t, "bob", "editor")
	f.share(t, "erin", "viewer")
	result, err := f.service.SyncPhases(ctx, "ext_1", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	require.NoError(t, err)
	taskID := result.Tasks[0].ID

	checked := true
	status := "in_progress"
	task, err := f.service.UpdateTask(ctx, "ext_1", "bob", taskID, TaskUpdate{Checked: &checked, Status: &status})
	require.NoError(t, err)
	assert.True(t, task.Checked)
	assert.Equal(t, store.TaskInProgress, task.Status)

	counts, err := f.store.CountChildren(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Events)

	_, err = f.service.UpdateTask(ctx, "ext_1", "erin", taskID, TaskUpdate{Checked: &checked})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	bad := "done"
	_, err = f.service.UpdateTask(ctx, "ext_1", "bob", taskID, TaskUpdate{Status: &bad})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = f.service.UpdateTask(ctx, "ext_1", "bob", taskID, TaskUpdate{})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = f.service.UpdateTask(ctx, "ext_1", "bob", "tsk_missing", TaskUpdate{Checked: &checked})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestUpdateTaskRejectsTaskOfAnotherPlaybook(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	testutil.SeedExtraction(t, f.store, "ext_2", "alice")
	other, err := f.service.SyncPhases(ctx, "ext_2", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	require.NoError(t, err)

	checked := true
	_, err = f.service.UpdateTask(ctx, "ext_1", "alice", other.Tasks[0].ID, TaskUpdate{Checked: &checked})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestOwnerOnlyOperations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.share(t, "bob", "editor")

	_, err := f.service.SetVisibility(ctx, "ext_1", "bob", "public")
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = f.service.UpdateTitle(ctx, "ext_1", "bob", "Mine now")
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = f.service.ListMembers(ctx, "ext_1", "bob")
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = f.service.SetVisibility(ctx, "ext_1", "alice", "everyone")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.service.UpdateTitle(ctx, "ext_1", "alice", "   ")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	extraction, err := f.service.SetVisibility(ctx, "ext_1", "alice", "private")
	require.NoError(t, err)
	assert.Equal(t, store.VisibilityPrivate, extraction.Visibility)

	extraction, err = f.service.UpdateTitle(ctx, "ext_1", "alice", " Launch plan ")
	require.NoError(t, err)
	assert.Equal(t, "Launch plan", extraction.Title)

	// bob's membership row is inert now that the playbook is private.
	_, err = f.service.GetPlaybook(ctx, "ext_1", "bob")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestMemberManagement(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.service.SetVisibility(ctx, "ext_1", "alice", "circle")
	require.NoError(t, err)

	_, err = f.service.AddMember(ctx, "ext_1", "alice", "alice", "editor")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.service.AddMember(ctx, "ext_1", "alice", "bob", "owner")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.service.AddMember(ctx, "ext_1", "alice", " ", "viewer")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	members, err := f.service.AddMember(ctx, "ext_1", "alice", "bob", "editor")
	require.NoError(t, err)
	require.Len(t, members, 1)

	playbook, err := f.service.GetPlaybook(ctx, "ext_1", "bob")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, playbook.Role)

	require.NoError(t, f.service.RemoveMember(ctx, "ext_1", "alice", "bob"))
	err = f.service.RemoveMember(ctx, "ext_1", "alice", "bob")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestFolderAccessGrants(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertFolder(ctx, store.Folder{ID: "fld_1", OwnerID: "alice", Name: "Team"}))
	folderID := "fld_1"
	require.NoError(t, f.store.MoveExtraction(ctx, "ext_1", &folderID))

	err := f.service.GrantFolderAccess(ctx, "fld_1", "mallory", "mallory")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	err = f.service.GrantFolderAccess(ctx, "fld_missing", "alice", "carol")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	err = f.service.GrantFolderAccess(ctx, "fld_1", "alice", "alice")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	require.NoError(t, f.service.GrantFolderAccess(ctx, "fld_1", "alice", "carol"))
	playbook, err := f.service.GetPlaybook(ctx, "ext_1", "carol")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, playbook.Role)

	_, err = f.service.SyncPhases(ctx, "ext_1", "carol", []store.Phase{{Title: "Prep", Items: []string{"x"}}})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	require.NoError(t, f.service.RevokeFolderAccess(ctx, "fld_1", "alice", "carol"))
	err = f.service.RevokeFolderAccess(ctx, "fld_1", "alice", "carol")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = f.service.GetPlaybook(ctx, "ext_1", "carol")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestLastSyncFollowsPublishedEvents(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, ok, err := f.service.LastSync(ctx, "ext_1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.service.SyncPhases(ctx, "ext_1", "alice", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	require.NoError(t, err)

	event, ok, err := f.service.LastSync(ctx, "ext_1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", event.ActorID)
	assert.Equal(t, 1, event.TaskCount)

	_, _, err = f.service.LastSync(ctx, "ext_1", "mallory")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestReadinessReportsEachBackend(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	checks := f.service.Readiness(ctx)
	assert.Len(t, checks, 3)
	for name, err := range checks {
		assert.NoError(t, err, name)
	}

	f.publisher.pingErr = errors.New("redis down")
	f.indexer.unhealthy = true
	checks = f.service.Readiness(ctx)
	assert.NoError(t, checks["database"])
	assert.EqualError(t, checks["redis"], "redis down")
	assert.Error(t, checks["search"])
}

func TestForbiddenListsAllowedRoles(t *testing.T) {
	f := newServiceFixture(t)
	f.share(t, "erin", "viewer")

	_, err := f.service.SyncPhases(context.Background(), "ext_1", "erin", []store.Phase{{Title: "Prep", Items: []string{"Draft"}}})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	details, ok := domainErr.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, rbac.OpEditStructure, details["operation"])
	assert.ElementsMatch(t, []rbac.Role{rbac.RoleOwner, rbac.RoleEditor}, details["allowedRoles"])
}
