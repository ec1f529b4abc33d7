package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	jobmetrics "github.com/jinjupeng/item-apiserver/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ErrUnknownFamily is returned when a payload names an unregistered family.
var ErrUnknownFamily = errors.New("integrity scan: unknown family")

// IntegrityChecker is the part of hierarchy.Service the scan needs.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]hierarchy.Violation, error)
	RepairLeafFlags(ctx context.Context) ([]int64, error)
}

// FamilyReport summarises the scan of one family.
type FamilyReport struct {
	Family     string                `json:"family"`
	Violations []hierarchy.Violation `json:"violations"`
	Repaired   []int64               `json:"repaired,omitempty"`
}

// ScanReport is the outcome of one integrity scan run.
type ScanReport struct {
	RunID    string         `json:"runId"`
	Families []FamilyReport `json:"families"`
}

// IntegrityScanJob checks every registered hierarchy family for broken
// path, depth, leaf and root invariants.
type IntegrityScanJob struct {
	Checkers map[string]IntegrityChecker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	newID    func() string
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(checkers map[string]IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Checkers: checkers, Logger: logger, Metrics: metrics, newID: uuid.NewString}
}

// Handle executes the scan for an Asynq task.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, ErrUnknownFamily) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

// Run scans the requested families in name order.
func (j *IntegrityScanJob) Run(ctx context.Context, payload IntegrityScanPayload) (report ScanReport, resultErr error) {
	if payload.RunID == "" {
		payload.RunID = j.runID()
	}
	tracker := j.metrics().Track(TaskIntegrityScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	families, err := j.families(payload.Families)
	if err != nil {
		return ScanReport{}, err
	}
	logger := j.logger().With(slog.String("run_id", payload.RunID), slog.Bool("repair", payload.Repair))
	logger.Info("starting integrity scan", slog.Any("families", families))
	start := time.Now()

	report = ScanReport{RunID: payload.RunID, Families: make([]FamilyReport, 0, len(families))}
	for _, name := range families {
		fr, err := j.scanFamily(ctx, name, payload.Repair, logger)
		if err != nil {
			logger.Error("scan failed", slog.String("family", name), slog.Any("error", err))
			return report, fmt.Errorf("integrity scan %s: %w", name, err)
		}
		report.Families = append(report.Families, fr)
	}

	logger.Info("completed integrity scan", slog.Duration("duration", time.Since(start)))
	return report, nil
}

func (j *IntegrityScanJob) scanFamily(ctx context.Context, name string, repair bool, logger *slog.Logger) (FamilyReport, error) {
	checker := j.Checkers[name]
	violations, err := checker.CheckIntegrity(ctx)
	if err != nil {
		return FamilyReport{}, err
	}
	if violations == nil {
		violations = []hierarchy.Violation{}
	}
	fr := FamilyReport{Family: name, Violations: violations}

	byRule := make(map[string]int)
	leafOnly := 0
	for _, v := range violations {
		byRule[v.Rule]++
		if v.Rule == hierarchy.RuleLeaf {
			leafOnly++
		}
		logger.Warn("hierarchy violation",
			slog.String("family", name),
			slog.Int64("node_id", v.NodeID),
			slog.String("rule", v.Rule),
			slog.String("detail", v.Detail),
		)
	}
	for rule, count := range byRule {
		j.metrics().AddViolations(name, rule, count)
	}

	if repair && leafOnly > 0 {
		repaired, err := checker.RepairLeafFlags(ctx)
		if err != nil {
			return fr, err
		}
		fr.Repaired = repaired
		j.metrics().AddRepairs(name, len(repaired))
		logger.Info("repaired leaf flags", slog.String("family", name), slog.Int("count", len(repaired)))
	}
	return fr, nil
}

func (j *IntegrityScanJob) families(requested []string) ([]string, error) {
	if len(requested) == 0 {
		names := make([]string, 0, len(j.Checkers))
		for name := range j.Checkers {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	names := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, ok := j.Checkers[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) runID() string {
	if j.newID != nil {
		return j.newID()
	}
	return uuid.NewString()
}
