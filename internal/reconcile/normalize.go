package reconcile

import (
	"strings"

	"playbook/api/internal/store"
)

// Normalize trims titles and items, drops blank items together with their
// keys, drops phases left without a title or without items, and renumbers the
// surviving phases 1..n. The input is never modified.
func Normalize(phases []store.Phase) store.PhaseList {
	out := make(store.PhaseList, 0, len(phases))
	for _, phase := range phases {
		title := strings.TrimSpace(phase.Title)
		if title == "" {
			continue
		}

		items := make([]string, 0, len(phase.Items))
		keys := make([]string, 0, len(phase.Items))
		hasKeys := false
		for i, raw := range phase.Items {
			item := strings.TrimSpace(raw)
			if item == "" {
				continue
			}
			key := ""
			if i < len(phase.Keys) {
				key = strings.TrimSpace(phase.Keys[i])
			}
			hasKeys = hasKeys || key != ""
			items = append(items, item)
			keys = append(keys, key)
		}
		if len(items) == 0 {
			continue
		}
		if !hasKeys {
			keys = nil
		}

		out = append(out, store.Phase{ID: len(out) + 1, Title: title, Items: items, Keys: keys})
	}
	return out
}

// withoutKeys returns phases as they are persisted: client keys are input only.
func withoutKeys(phases store.PhaseList) store.PhaseList {
	out := make(store.PhaseList, len(phases))
	for i, phase := range phases {
		out[i] = store.Phase{ID: phase.ID, Title: phase.Title, Items: phase.Items}
	}
	return out
}
