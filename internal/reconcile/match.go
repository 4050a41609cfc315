package reconcile

import (
	"sort"
	"strings"

	"playbook/api/internal/store"
)

// matcher claims an existing task for a submitted row.
type matcher struct {
	name  string
	match func(r row, t store.Task) bool
}

// matchers run in priority order; the first one that hits claims the task.
var matchers = []matcher{
	{"node_key", func(r row, t store.Task) bool {
		return r.claim != nil && *r.claim == t.NodeKey
	}},
	{"position_text", func(r row, t store.Task) bool {
		return r.placement.PhaseID == t.PhaseID &&
			r.placement.ItemIndex == t.ItemIndex &&
			strings.EqualFold(r.placement.ItemText, strings.TrimSpace(t.ItemText))
	}},
	{"text_phase_title", func(r row, t store.Task) bool {
		return r.placement.ItemText == strings.TrimSpace(t.ItemText) &&
			r.placement.PhaseTitle == strings.TrimSpace(t.PhaseTitle)
	}},
	{"text", func(r row, t store.Task) bool {
		return r.placement.ItemText == strings.TrimSpace(t.ItemText)
	}},
	{"position", func(r row, t store.Task) bool {
		return r.placement.PhaseID == t.PhaseID && r.placement.ItemIndex == t.ItemIndex
	}},
}

type pair struct {
	row  row
	task store.Task
}

// plan is the outcome of matching: rows that keep an existing task, rows that
// need a new one, and tasks nobody claimed.
type plan struct {
	matched   []pair
	inserts   []row
	deletes   []store.Task
	byMatcher map[string]int
}

// planSync matches rows in traversal order against a pool of unclaimed tasks
// ordered by phase, item index and id. Each row tries every matcher against the
// whole pool before falling through to the next, so the work is bounded by
// len(rows) * len(existing) * len(matchers).
func planSync(rows []row, existing []store.Task) plan {
	pool := make([]store.Task, len(existing))
	copy(pool, existing)
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.PhaseID != b.PhaseID {
			return a.PhaseID < b.PhaseID
		}
		if a.ItemIndex != b.ItemIndex {
			return a.ItemIndex < b.ItemIndex
		}
		return a.ID < b.ID
	})

	p := plan{byMatcher: make(map[string]int, len(matchers))}
	for _, r := range rows {
		claimed := -1
		for _, m := range matchers {
			for i := range pool {
				if m.match(r, pool[i]) {
					claimed = i
					break
				}
			}
			if claimed >= 0 {
				p.byMatcher[m.name]++
				break
			}
		}
		if claimed < 0 {
			p.inserts = append(p.inserts, r)
			continue
		}
		p.matched = append(p.matched, pair{row: r, task: pool[claimed]})
		pool = append(pool[:claimed], pool[claimed+1:]...)
	}
	p.deletes = pool
	return p
}
