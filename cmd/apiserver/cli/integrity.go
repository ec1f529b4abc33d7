package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
	"github.com/jinjupeng/item-apiserver/jobs"
)

// Exit codes of the check command.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitViolations = 10
)

// IntegrityCheckOptions defines available flags for the check command.
type IntegrityCheckOptions struct {
	Families   []string
	Repair     bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegrityCLI runs integrity scans inline, without the queue.
type IntegrityCLI struct {
	job *jobs.IntegrityScanJob
}

// NewIntegrityCLI builds the CLI over the given family checkers.
func NewIntegrityCLI(job *jobs.IntegrityScanJob) *IntegrityCLI {
	return &IntegrityCLI{job: job}
}

// CheckCommand scans the families and prints the outcome. It returns
// ExitViolations when any violation remains after an optional repair.
func (c *IntegrityCLI) CheckCommand(ctx context.Context, opts IntegrityCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	report, err := c.job.Run(ctx, jobs.IntegrityScanPayload{Families: opts.Families, Repair: opts.Repair})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "check: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "check: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderHuman(opts.Stdout, report)
	}
	if remaining(report) > 0 {
		return ExitViolations
	}
	return ExitOK
}

// remaining counts violations not fixed by a repair. Only leaf flags are
// repairable.
func remaining(report jobs.ScanReport) int {
	total := 0
	for _, fr := range report.Families {
		fixed := make(map[int64]struct{}, len(fr.Repaired))
		for _, id := range fr.Repaired {
			fixed[id] = struct{}{}
		}
		for _, v := range fr.Violations {
			if _, ok := fixed[v.NodeID]; ok && v.Rule == hierarchy.RuleLeaf {
				continue
			}
			total++
		}
	}
	return total
}

func renderHuman(out io.Writer, report jobs.ScanReport) {
	_, _ = fmt.Fprintf(out, "integrity scan %s\n", report.RunID)
	for _, fr := range report.Families {
		if len(fr.Violations) == 0 {
			_, _ = fmt.Fprintf(out, "%s: ok\n", fr.Family)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s: %d violation(s)\n", fr.Family, len(fr.Violations))
		for _, v := range fr.Violations {
			_, _ = fmt.Fprintf(out, " - node %d [%s] %s\n", v.NodeID, v.Rule, v.Detail)
		}
		if len(fr.Repaired) > 0 {
			_, _ = fmt.Fprintf(out, "   repaired leaf flags: %v\n", fr.Repaired)
		}
	}
}
