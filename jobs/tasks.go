package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegrityScan checks the structural invariants of hierarchy families.
	TaskIntegrityScan = "hierarchy:integrity_scan"
)

// IntegrityScanPayload selects the families to scan. An empty Families list
// scans every registered family. Repair rewrites wrong leaf flags.
type IntegrityScanPayload struct {
	RunID    string   `json:"run_id,omitempty"`
	Families []string `json:"families,omitempty"`
	Repair   bool     `json:"repair"`
}

// NewIntegrityScanTask constructs an Asynq task.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data), nil
}
