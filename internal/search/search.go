// Package search keeps the playbook task index in step with committed syncs.
package search

import "playbook/api/internal/store"

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID           string `json:"id"`
	ExtractionID string `json:"extractionId"`
	PhaseID      int    `json:"phaseId"`
	PhaseTitle   string `json:"phaseTitle"`
	Text         string `json:"text"`
	NodeKey      string `json:"nodeKey"`
	PositionPath string `json:"positionPath"`
	Status       string `json:"status"`
	Checked      bool   `json:"checked"`
}

// Indexer can push tasks into a search index.
type Indexer interface {
	IndexTasks(tasks []TaskRecord) error
	DeleteTasks(ids []string) error
	Healthy() bool
}

func RecordFromTask(task store.Task) TaskRecord {
	return TaskRecord{
		ID:           task.ID,
		ExtractionID: task.ExtractionID,
		PhaseID:      task.PhaseID,
		PhaseTitle:   task.PhaseTitle,
		Text:         task.ItemText,
		NodeKey:      task.NodeKey.String(),
		PositionPath: task.PositionPath,
		Status:       string(task.Status),
		Checked:      task.Checked,
	}
}

func RecordsFromTasks(tasks []store.Task) []TaskRecord {
	records := make([]TaskRecord, len(tasks))
	for i, task := range tasks {
		records[i] = RecordFromTask(task)
	}
	return records
}
