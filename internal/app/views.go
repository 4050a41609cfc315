package app

import (
	"time"

	"playbook/api/internal/store"
)

func extractionView(e store.Extraction) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"ownerId":    e.OwnerID,
		"title":      e.Title,
		"visibility": e.Visibility,
		"folderId":   e.FolderID,
		"phases":     e.Phases,
		"updatedBy":  e.UpdatedBy,
		"createdAt":  e.CreatedAt.Format(time.RFC3339),
		"updatedAt":  e.UpdatedAt.Format(time.RFC3339),
	}
}

func taskView(t store.Task) map[string]any {
	return map[string]any{
		"id":           t.ID,
		"phaseId":      t.PhaseID,
		"phaseTitle":   t.PhaseTitle,
		"itemIndex":    t.ItemIndex,
		"text":         t.ItemText,
		"nodeKey":      t.NodeKey.String(),
		"parentKey":    t.ParentKey,
		"depth":        t.Depth,
		"positionPath": t.PositionPath,
		"checked":      t.Checked,
		"status":       t.Status,
		"updatedAt":    t.UpdatedAt.Format(time.RFC3339),
	}
}

func taskViews(tasks []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskView(task))
	}
	return out
}

func memberViews(members []store.Member) []map[string]any {
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, map[string]any{
			"userId":    m.UserID,
			"role":      m.Role,
			"createdAt": m.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
