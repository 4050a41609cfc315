package search

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxTasks = "playbook_tasks"

// Meili implements Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}

	closeOnce sync.Once
}

// NewMeili creates a Meilisearch client and configures the task index. An
// unreachable server is not an error: the indexer reports unhealthy and a
// background check reconfigures the index once it comes back.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.With().Str("component", "search").Logger(),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTasks,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Str("index", idxTasks).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"extractionId", "phaseId", "status", "checked"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Str("index", idxTasks).Msg("update filterable attributes")
	}
	searchable := []string{"text", "phaseTitle"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Str("index", idxTasks).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexTasks adds or replaces task records.
func (m *Meili) IndexTasks(tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxTasks).AddDocuments(tasks, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("index tasks: %w", err)
	}
	return nil
}

// DeleteTasks removes task records by id.
func (m *Meili) DeleteTasks(ids []string) error {
	index := m.client.Index(idxTasks)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			m.healthy.Store(false)
			return fmt.Errorf("delete task %s from index: %w", id, err)
		}
	}
	return nil
}
