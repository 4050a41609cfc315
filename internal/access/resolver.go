// Package access resolves the effective role a user holds on a playbook.
//
// Grants are evaluated in strict precedence: ownership, then a read grant
// inherited from any folder above the playbook in its owner's tree, then a
// direct membership that only counts while the playbook is shared with its
// circle. The first grant found wins; nothing upgrades a folder viewer.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"playbook/api/internal/rbac"
	"playbook/api/internal/store"
)

// Store is the read surface the resolver needs.
type Store interface {
	GetExtraction(ctx context.Context, extractionID string) (store.Extraction, error)
	GetFolder(ctx context.Context, folderID string) (store.Folder, error)
	HasFolderGrant(ctx context.Context, folderID, ownerID, memberID string) (bool, error)
	GetMemberRole(ctx context.Context, extractionID, userID string) (string, bool, error)
}

// Access is the outcome of a resolution. Extraction is zero when Role is none.
type Access struct {
	Extraction store.Extraction
	Role       rbac.Role
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the role userID holds on extractionID. A missing playbook,
// a blank user or the absence of any grant all yield rbac.RoleNone with a nil
// error; only store failures are returned.
func (r *Resolver) Resolve(ctx context.Context, extractionID, userID string) (Access, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(extractionID) == "" {
		return Access{Role: rbac.RoleNone}, nil
	}

	extraction, err := r.store.GetExtraction(ctx, extractionID)
	if errors.Is(err, store.ErrNotFound) {
		return Access{Role: rbac.RoleNone}, nil
	}
	if err != nil {
		return Access{}, fmt.Errorf("resolve access: %w", err)
	}

	if extraction.OwnerID == userID {
		return Access{Extraction: extraction, Role: rbac.RoleOwner}, nil
	}

	inherited, err := r.folderGrant(ctx, extraction, userID)
	if err != nil {
		return Access{}, err
	}
	if inherited {
		return Access{Extraction: extraction, Role: rbac.RoleViewer}, nil
	}

	if extraction.Visibility == store.VisibilityCircle {
		raw, ok, err := r.store.GetMemberRole(ctx, extraction.ID, userID)
		if err != nil {
			return Access{}, fmt.Errorf("resolve access: %w", err)
		}
		if role, valid := rbac.ParseMemberRole(raw); ok && valid {
			return Access{Extraction: extraction, Role: role}, nil
		}
	}

	return Access{Role: rbac.RoleNone}, nil
}

// folderGrant walks from the playbook's folder to the root of its tree and
// reports whether userID holds a grant on any folder along the way. Grants
// only count when issued by the playbook owner; a folder seen twice ends the
// walk.
func (r *Resolver) folderGrant(ctx context.Context, extraction store.Extraction, userID string) (bool, error) {
	if extraction.FolderID == nil {
		return false, nil
	}

	visited := make(map[string]struct{})
	next := *extraction.FolderID
	for next != "" {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, seen := visited[next]; seen {
			return false, nil
		}
		visited[next] = struct{}{}

		granted, err := r.store.HasFolderGrant(ctx, next, extraction.OwnerID, userID)
		if err != nil {
			return false, fmt.Errorf("resolve folder grant: %w", err)
		}
		if granted {
			return true, nil
		}

		folder, err := r.store.GetFolder(ctx, next)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("resolve folder grant: %w", err)
		}
		if folder.ParentID == nil {
			return false, nil
		}
		next = *folder.ParentID
	}
	return false, nil
}
