package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityCircle   Visibility = "circle"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

func ParseVisibility(raw string) (Visibility, bool) {
	switch Visibility(raw) {
	case VisibilityPrivate, VisibilityCircle, VisibilityUnlisted, VisibilityPublic:
		return Visibility(raw), true
	default:
		return "", false
	}
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
)

func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch TaskStatus(raw) {
	case TaskPending, TaskInProgress, TaskBlocked, TaskCompleted:
		return TaskStatus(raw), true
	default:
		return "", false
	}
}

// Phase is one titled group of items. Keys is input-only: Keys[i], when
// non-empty, is the node key item i carried when the client loaded it.
type Phase struct {
	ID    int      `json:"id"`
	Title string   `json:"title"`
	Items []string `json:"items"`
	Keys  []string `json:"keys,omitempty"`
}

// PhaseList is the persisted phase structure of an extraction.
type PhaseList []Phase

func (p PhaseList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal phases: %w", err)
	}
	return string(raw), nil
}

func (p *PhaseList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		*p = PhaseList{}
		return nil
	default:
		return fmt.Errorf("scan phases: unsupported type %T", src)
	}
	var phases PhaseList
	if err := json.Unmarshal(raw, &phases); err != nil {
		return fmt.Errorf("scan phases: %w", err)
	}
	*p = phases
	return nil
}

type Extraction struct {
	ID         string     `db:"id"`
	OwnerID    string     `db:"owner_id"`
	Title      string     `db:"title"`
	Visibility Visibility `db:"visibility"`
	FolderID   *string    `db:"folder_id"`
	Phases     PhaseList  `db:"phases_json"`
	UpdatedBy  string     `db:"updated_by"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

type Task struct {
	ID           string     `db:"id"`
	ExtractionID string     `db:"extraction_id"`
	PhaseID      int        `db:"phase_id"`
	PhaseTitle   string     `db:"phase_title"`
	ItemIndex    int        `db:"item_index"`
	ItemText     string     `db:"item_text"`
	NodeKey      NodeKey    `db:"node_key"`
	ParentKey    string     `db:"parent_key"`
	Depth        int        `db:"depth"`
	PositionPath string     `db:"position_path"`
	Checked      bool       `db:"checked"`
	Status       TaskStatus `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Placement is the structural part of a task that a sync rewrites.
type Placement struct {
	PhaseID      int
	PhaseTitle   string
	ItemIndex    int
	ItemText     string
	NodeKey      NodeKey
	ParentKey    string
	Depth        int
	PositionPath string
}

func (t Task) Placement() Placement {
	return Placement{
		PhaseID:      t.PhaseID,
		PhaseTitle:   t.PhaseTitle,
		ItemIndex:    t.ItemIndex,
		ItemText:     t.ItemText,
		NodeKey:      t.NodeKey,
		ParentKey:    t.ParentKey,
		Depth:        t.Depth,
		PositionPath: t.PositionPath,
	}
}

type Member struct {
	ExtractionID string    `db:"extraction_id"`
	UserID       string    `db:"user_id"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

type Folder struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	ParentID  *string   `db:"parent_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type TaskEvent struct {
	ID     string
	TaskID string
	UserID string
	Kind   string
	Note   string
}

type Attachment struct {
	ID          string
	TaskID      string
	UserID      string
	FileName    string
	StorageKey  string
	ContentType string
	SizeBytes   int64
}

type Comment struct {
	ID       string
	TaskID   string
	ParentID *string
	UserID   string
	Body     string
}

// ChildCounts tallies the collaboration rows hanging off one task.
type ChildCounts struct {
	Events      int
	Attachments int
	Comments    int
	Likes       int
	Follows     int
	Views       int
}

func (c ChildCounts) Total() int {
	return c.Events + c.Attachments + c.Comments + c.Likes + c.Follows + c.Views
}
