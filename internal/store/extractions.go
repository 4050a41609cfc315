package store

import (
	"context"
	"fmt"
)

const extractionColumns = `id, owner_id, title, visibility, folder_id, phases_json, updated_by, created_at, updated_at`

func (s *Store) InsertExtraction(ctx context.Context, item Extraction) error {
	now := s.now()
	if item.Visibility == "" {
		item.Visibility = VisibilityPrivate
	}
	if item.Phases == nil {
		item.Phases = PhaseList{}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO extractions (id, owner_id, title, visibility, folder_id, phases_json, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), item.ID, item.OwnerID, item.Title, string(item.Visibility), item.FolderID, item.Phases, item.OwnerID, now, now)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

func (s *Store) GetExtraction(ctx context.Context, extractionID string) (Extraction, error) {
	var item Extraction
	err := getOne(ctx, s.db, &item, s.db.Rebind(`SELECT `+extractionColumns+` FROM extractions WHERE id = ?`), extractionID)
	if err != nil {
		return Extraction{}, fmt.Errorf("get extraction %s: %w", extractionID, err)
	}
	return item, nil
}

func (s *Store) UpdateVisibility(ctx context.Context, extractionID string, visibility Visibility) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE extractions SET visibility = ?, updated_at = ? WHERE id = ?
	`), string(visibility), s.now(), extractionID)
	if err != nil {
		return fmt.Errorf("update visibility: %w", err)
	}
	return expectRow(result, "update visibility")
}

func (s *Store) UpdateTitle(ctx context.Context, extractionID, title string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE extractions SET title = ?, updated_at = ? WHERE id = ?
	`), title, s.now(), extractionID)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return expectRow(result, "update title")
}

// MoveExtraction files the extraction under folderID, or at the root when nil.
func (s *Store) MoveExtraction(ctx context.Context, extractionID string, folderID *string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE extractions SET folder_id = ?, updated_at = ? WHERE id = ?
	`), folderID, s.now(), extractionID)
	if err != nil {
		return fmt.Errorf("move extraction: %w", err)
	}
	return expectRow(result, "move extraction")
}

// === Direct members ===

func (s *Store) UpsertMember(ctx context.Context, extractionID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO extraction_members (extraction_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (extraction_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`), extractionID, userID, role, s.now())
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, extractionID, userID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM extraction_members WHERE extraction_id = ? AND user_id = ?
	`), extractionID, userID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return expectRow(result, "delete member")
}

func (s *Store) ListMembers(ctx context.Context, extractionID string) ([]Member, error) {
	items := make([]Member, 0)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT extraction_id, user_id, role, created_at
		FROM extraction_members
		WHERE extraction_id = ?
		ORDER BY created_at ASC, user_id ASC
	`), extractionID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return items, nil
}

// GetMemberRole returns the direct membership role of userID, and false when
// no row exists.
func (s *Store) GetMemberRole(ctx context.Context, extractionID, userID string) (string, bool, error) {
	var role string
	err := getOne(ctx, s.db, &role, s.db.Rebind(`
		SELECT role FROM extraction_members WHERE extraction_id = ? AND user_id = ?
	`), extractionID, userID)
	if err == ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read member role: %w", err)
	}
	return role, true, nil
}

// === Folders ===

func (s *Store) InsertFolder(ctx context.Context, folder Folder) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO folders (id, owner_id, parent_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), folder.ID, folder.OwnerID, folder.ParentID, folder.Name, s.now())
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (s *Store) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := getOne(ctx, s.db, &folder, s.db.Rebind(`
		SELECT id, owner_id, parent_id, name, created_at FROM folders WHERE id = ?
	`), folderID)
	if err != nil {
		return Folder{}, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	return folder, nil
}

func (s *Store) SetFolderParent(ctx context.Context, folderID string, parentID *string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE folders SET parent_id = ? WHERE id = ?`), parentID, folderID)
	if err != nil {
		return fmt.Errorf("set folder parent: %w", err)
	}
	return expectRow(result, "set folder parent")
}

func (s *Store) UpsertFolderMember(ctx context.Context, folderID, ownerID, memberID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO folder_members (folder_id, owner_id, member_id, role, created_at)
		VALUES (?, ?, ?, 'viewer', ?)
		ON CONFLICT (folder_id, owner_id, member_id) DO NOTHING
	`), folderID, ownerID, memberID, s.now())
	if err != nil {
		return fmt.Errorf("upsert folder member: %w", err)
	}
	return nil
}

func (s *Store) DeleteFolderMember(ctx context.Context, folderID, ownerID, memberID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM folder_members WHERE folder_id = ? AND owner_id = ? AND member_id = ?
	`), folderID, ownerID, memberID)
	if err != nil {
		return fmt.Errorf("delete folder member: %w", err)
	}
	return expectRow(result, "delete folder member")
}

// HasFolderGrant reports whether memberID holds a grant on folderID within
// ownerID's tree.
func (s *Store) HasFolderGrant(ctx context.Context, folderID, ownerID, memberID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM folder_members
		WHERE folder_id = ? AND owner_id = ? AND member_id = ?
	`), folderID, ownerID, memberID)
	if err != nil {
		return false, fmt.Errorf("check folder grant: %w", err)
	}
	return count > 0, nil
}
