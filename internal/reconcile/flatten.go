package reconcile

import "playbook/api/internal/store"

// row is one item of the submitted tree in traversal order.
type row struct {
	placement store.Placement
	// claim is the key the client saw on this item before the edit, if any.
	claim *store.NodeKey
}

func flatten(phases store.PhaseList) []row {
	rows := make([]row, 0)
	for _, phase := range phases {
		for index, text := range phase.Items {
			key := store.NodeKey{Phase: phase.ID, Index: index}
			r := row{placement: store.Placement{
				PhaseID:      phase.ID,
				PhaseTitle:   phase.Title,
				ItemIndex:    index,
				ItemText:     text,
				NodeKey:      key,
				ParentKey:    key.Parent(),
				Depth:        1,
				PositionPath: store.PositionPath(phase.ID, index),
			}}
			if index < len(phase.Keys) && phase.Keys[index] != "" {
				if claimed, err := store.ParseNodeKey(phase.Keys[index]); err == nil {
					r.claim = &claimed
				}
			}
			rows = append(rows, r)
		}
	}
	return rows
}
