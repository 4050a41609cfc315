package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"playbook/api/internal/access"
	"playbook/api/internal/config"
	"playbook/api/internal/notify"
	"playbook/api/internal/rbac"
	"playbook/api/internal/reconcile"
	"playbook/api/internal/search"
	"playbook/api/internal/store"
	"playbook/api/internal/util"
)

type dataStore interface {
	access.Store
	ListTasks(context.Context, string) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	UpdateTaskState(context.Context, string, bool, store.TaskStatus, store.TaskEvent) (store.Task, error)
	UpdateVisibility(context.Context, string, store.Visibility) error
	UpdateTitle(context.Context, string, string) error
	ListMembers(context.Context, string) ([]store.Member, error)
	UpsertMember(context.Context, string, string, string) error
	DeleteMember(context.Context, string, string) error
	UpsertFolderMember(context.Context, string, string, string) error
	DeleteFolderMember(context.Context, string, string, string) error
	Ping(ctx context.Context) error
}

type phaseSyncer interface {
	Reconcile(ctx context.Context, extractionID, actorID string, phases []store.Phase, opts ...reconcile.Option) (reconcile.Result, error)
}

type syncPublisher interface {
	PublishSync(context.Context, notify.SyncEvent) error
	LastSync(context.Context, string) (notify.SyncEvent, bool, error)
	Ping(context.Context) error
}

type blobRemover interface {
	RemoveObjects(context.Context, []string) error
}

type Service struct {
	cfg           config.Config
	store         dataStore
	access        *access.Resolver
	sync          phaseSyncer
	publisher     syncPublisher
	indexer       search.Indexer
	blobs         blobRemover
	log           zerolog.Logger
	defaultPhases []store.Phase
	now           func() time.Time
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithPublisher(p syncPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithIndexer(i search.Indexer) Option {
	return func(s *Service) { s.indexer = i }
}

func WithBlobStore(b blobRemover) Option {
	return func(s *Service) { s.blobs = b }
}

func New(cfg config.Config, dataStore *store.Store, opts ...Option) *Service {
	s := &Service{
		cfg:           cfg,
		store:         dataStore,
		access:        access.NewResolver(dataStore),
		log:           zerolog.Nop(),
		defaultPhases: phasesFromTemplates(cfg.DefaultPhases),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sync = reconcile.New(reconcile.FromStore(dataStore), s.log)
	return s
}

func phasesFromTemplates(templates []config.PhaseTemplate) []store.Phase {
	phases := make([]store.Phase, 0, len(templates))
	for i, tpl := range templates {
		phases = append(phases, store.Phase{ID: i + 1, Title: tpl.Title, Items: append([]string(nil), tpl.Items...)})
	}
	return phases
}

// Readiness checks every configured backend. A nil entry means healthy;
// backends that are not configured are left out.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.publisher != nil {
		checks["redis"] = s.publisher.Ping(ctx)
	}
	if s.indexer != nil {
		var err error
		if !s.indexer.Healthy() {
			err = errors.New("search index unreachable")
		}
		checks["search"] = err
	}
	return checks
}

// authorize resolves userID's role on extractionID and checks it against op.
// Users without any role get not found so the playbook's existence stays hidden.
func (s *Service) authorize(ctx context.Context, extractionID, userID string, op rbac.Operation) (access.Access, error) {
	resolved, err := s.access.Resolve(ctx, extractionID, userID)
	if err != nil {
		return access.Access{}, err
	}
	if resolved.Role == rbac.RoleNone {
		return access.Access{}, notFound("Playbook")
	}
	if !rbac.Can(resolved.Role, op) {
		s.log.Info().
			Str("extraction_id", extractionID).
			Str("user_id", userID).
			Str("role", string(resolved.Role)).
			Str("operation", string(op)).
			Msg("operation denied")
		return access.Access{}, forbidden(op)
	}
	return resolved, nil
}

type Playbook struct {
	Extraction store.Extraction
	Role       rbac.Role
	Tasks      []store.Task
}

func (s *Service) GetPlaybook(ctx context.Context, extractionID, userID string) (Playbook, error) {
	resolved, err := s.authorize(ctx, extractionID, userID, rbac.OpRead)
	if err != nil {
		return Playbook{}, err
	}
	tasks, err := s.store.ListTasks(ctx, extractionID)
	if err != nil {
		return Playbook{}, err
	}
	return Playbook{Extraction: resolved.Extraction, Role: resolved.Role, Tasks: tasks}, nil
}

// LastSync returns the latest announced sync of a playbook the user can read.
// It reports false when no event is retained or no publisher is configured.
func (s *Service) LastSync(ctx context.Context, extractionID, userID string) (notify.SyncEvent, bool, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpRead); err != nil {
		return notify.SyncEvent{}, false, err
	}
	if s.publisher == nil {
		return notify.SyncEvent{}, false, nil
	}
	return s.publisher.LastSync(ctx, extractionID)
}

func (s *Service) ListTasks(ctx context.Context, extractionID, userID string) ([]store.Task, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpRead); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, extractionID)
}

// SyncPhases replaces the playbook structure and carries task state across.
// Side effects after the commit never change the returned result.
func (s *Service) SyncPhases(ctx context.Context, extractionID, userID string, phases []store.Phase) (reconcile.Result, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpEditStructure); err != nil {
		return reconcile.Result{}, err
	}

	result, err := s.sync.Reconcile(ctx, extractionID, userID, phases, reconcile.WithFallback(s.defaultPhases))
	if err != nil {
		if errors.Is(err, reconcile.ErrSyncFailed) {
			return reconcile.Result{}, domainError(http.StatusInternalServerError, "SYNC_FAILED", "Synchronization failed", nil)
		}
		return reconcile.Result{}, err
	}

	s.afterSync(ctx, extractionID, userID, result)
	return result, nil
}

func (s *Service) afterSync(ctx context.Context, extractionID, userID string, result reconcile.Result) {
	logger := s.log.With().Str("extraction_id", extractionID).Logger()

	if s.publisher != nil {
		event := notify.SyncEvent{
			ExtractionID: extractionID,
			ActorID:      userID,
			Inserted:     result.Inserted,
			Updated:      result.Updated,
			Deleted:      result.Deleted,
			Cleared:      result.Cleared,
			TaskCount:    len(result.Tasks),
			SyncedAt:     s.now(),
		}
		if err := s.publisher.PublishSync(ctx, event); err != nil {
			logger.Warn().Err(err).Msg("publish sync event")
		}
	}

	if s.indexer != nil && s.indexer.Healthy() {
		if err := s.indexer.DeleteTasks(result.Deleted); err != nil {
			logger.Warn().Err(err).Msg("remove deleted tasks from index")
		}
		if err := s.indexer.IndexTasks(search.RecordsFromTasks(result.Tasks)); err != nil {
			logger.Warn().Err(err).Msg("index synced tasks")
		}
	}

	if s.blobs != nil && len(result.OrphanedBlobs) > 0 {
		if err := s.blobs.RemoveObjects(ctx, result.OrphanedBlobs); err != nil {
			logger.Warn().Err(err).Int("objects", len(result.OrphanedBlobs)).Msg("remove orphaned attachments")
		}
	}
}

type TaskUpdate struct {
	Checked *bool   `json:"checked"`
	Status  *string `json:"status"`
}

// UpdateTask changes the collaboration state of one task. Fields left nil
// keep their current value.
func (s *Service) UpdateTask(ctx context.Context, extractionID, userID, taskID string, input TaskUpdate) (store.Task, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpUpdateTask); err != nil {
		return store.Task{}, err
	}
	if input.Checked == nil && input.Status == nil {
		return store.Task{}, invalid("checked or status is required", nil)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.ExtractionID != extractionID) {
		return store.Task{}, notFound("Task")
	}
	if err != nil {
		return store.Task{}, err
	}

	checked, status := task.Checked, task.Status
	if input.Checked != nil {
		checked = *input.Checked
	}
	if input.Status != nil {
		parsed, ok := store.ParseTaskStatus(strings.TrimSpace(*input.Status))
		if !ok {
			return store.Task{}, invalid("status is invalid", map[string]any{"status": *input.Status})
		}
		status = parsed
	}

	event := store.TaskEvent{ID: util.NewID("evt"), TaskID: taskID, UserID: userID, Kind: "state_changed"}
	event.Note = fmt.Sprintf("checked=%t status=%s", checked, status)
	updated, err := s.store.UpdateTaskState(ctx, taskID, checked, status, event)
	if err != nil {
		return store.Task{}, err
	}

	if s.indexer != nil && s.indexer.Healthy() {
		if err := s.indexer.IndexTasks([]search.TaskRecord{search.RecordFromTask(updated)}); err != nil {
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("index updated task")
		}
	}
	return updated, nil
}

func (s *Service) SetVisibility(ctx context.Context, extractionID, userID, mode string) (store.Extraction, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpChangeVisibility); err != nil {
		return store.Extraction{}, err
	}
	visibility, ok := store.ParseVisibility(strings.TrimSpace(mode))
	if !ok {
		return store.Extraction{}, invalid("visibility is invalid", map[string]any{"visibility": mode})
	}
	if err := s.store.UpdateVisibility(ctx, extractionID, visibility); err != nil {
		return store.Extraction{}, err
	}
	return s.store.GetExtraction(ctx, extractionID)
}

func (s *Service) UpdateTitle(ctx context.Context, extractionID, userID, title string) (store.Extraction, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpEditMetadata); err != nil {
		return store.Extraction{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Extraction{}, invalid("title is required", nil)
	}
	if err := s.store.UpdateTitle(ctx, extractionID, title); err != nil {
		return store.Extraction{}, err
	}
	return s.store.GetExtraction(ctx, extractionID)
}

func (s *Service) ListMembers(ctx context.Context, extractionID, userID string) ([]store.Member, error) {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpManageMembers); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, extractionID)
}

// AddMember grants memberID a direct role. The grant only takes effect while
// the playbook is shared with its circle.
func (s *Service) AddMember(ctx context.Context, extractionID, userID, memberID, role string) ([]store.Member, error) {
	resolved, err := s.authorize(ctx, extractionID, userID, rbac.OpManageMembers)
	if err != nil {
		return nil, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, invalid("userId is required", nil)
	}
	if memberID == resolved.Extraction.OwnerID {
		return nil, invalid("the owner cannot be added as a member", nil)
	}
	parsed, ok := rbac.ParseMemberRole(strings.TrimSpace(role))
	if !ok {
		return nil, invalid("role must be editor or viewer", map[string]any{"role": role})
	}
	if err := s.store.UpsertMember(ctx, extractionID, memberID, string(parsed)); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, extractionID)
}

func (s *Service) RemoveMember(ctx context.Context, extractionID, userID, memberID string) error {
	if _, err := s.authorize(ctx, extractionID, userID, rbac.OpManageMembers); err != nil {
		return err
	}
	if err := s.store.DeleteMember(ctx, extractionID, strings.TrimSpace(memberID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Member")
		}
		return err
	}
	return nil
}

// folderOwned loads folderID and checks that userID owns it. Folders owned
// by someone else are reported as missing.
func (s *Service) folderOwned(ctx context.Context, folderID, userID string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Folder{}, notFound("Folder")
	}
	if err != nil {
		return store.Folder{}, err
	}
	if strings.TrimSpace(userID) == "" || folder.OwnerID != userID {
		return store.Folder{}, notFound("Folder")
	}
	return folder, nil
}

// GrantFolderAccess gives memberID read access to every playbook the folder
// owner files under folderID or its subfolders.
func (s *Service) GrantFolderAccess(ctx context.Context, folderID, userID, memberID string) error {
	folder, err := s.folderOwned(ctx, folderID, userID)
	if err != nil {
		return err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return invalid("userId is required", nil)
	}
	if memberID == folder.OwnerID {
		return invalid("the owner cannot be added as a member", nil)
	}
	return s.store.UpsertFolderMember(ctx, folder.ID, folder.OwnerID, memberID)
}

func (s *Service) RevokeFolderAccess(ctx context.Context, folderID, userID, memberID string) error {
	folder, err := s.folderOwned(ctx, folderID, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFolderMember(ctx, folder.ID, folder.OwnerID, strings.TrimSpace(memberID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Member")
		}
		return err
	}
	return nil
}
