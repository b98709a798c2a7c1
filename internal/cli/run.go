package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/lanes/internal/observability"
	"github.com/harun/lanes/pkg/jobs"
	"github.com/harun/lanes/pkg/lanes"
	"github.com/spf13/cobra"
)

var runJobsFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every job in a job file once",
	Long: `Submit every job in the job file to its lane and wait until all lanes
have drained. Jobs sharing a lane run in file order; jobs on different lanes
run in parallel. Exits non-zero if any job fails.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runJobsFile, "jobs", "", "job file (JSON)")
	_ = runCmd.MarkFlagRequired("jobs")
	rootCmd.AddCommand(runCmd)
}

// runSummary counts completed tasks by status
type runSummary struct {
	mu       sync.Mutex
	byStatus map[string]int
}

func (s *runSummary) record(event lanes.Event) {
	status, _ := event.Data["status"].(string)
	s.mu.Lock()
	s.byStatus[status]++
	s.mu.Unlock()
}

func (s *runSummary) counts() (total, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for status, n := range s.byStatus {
		total += n
		if status != observability.StatusSuccess {
			failed += n
		}
	}
	return total, failed
}

func runRun(cmd *cobra.Command, args []string) error {
	d, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer teardown(d)

	file, err := loadJobFile(d, runJobsFile)
	if err != nil {
		return err
	}

	if len(file.Jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "0 job(s) finished, 0 failed")
		return nil
	}

	if err := d.Start(); err != nil {
		return err
	}

	registry := d.Registry()
	summary := &runSummary{byStatus: make(map[string]int)}
	registry.On(lanes.EventCompleted, summary.record)

	ctx := cmd.Context()
	if _, err := jobs.SubmitAll(ctx, registry, file, d.GetLogger().GetZerolog()); err != nil {
		return err
	}

	if !waitAll(ctx, registry) {
		return fmt.Errorf("interrupted before all jobs finished")
	}

	total, failed := summary.counts()
	fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) finished, %d failed\n", total, failed)
	if failed > 0 {
		return fmt.Errorf("%d job(s) failed", failed)
	}
	return nil
}

// waitAll polls until every lane drains or ctx is done
func waitAll(ctx context.Context, registry *lanes.Registry) bool {
	for {
		if registry.WaitDrained(lanes.AllLanes, 200*time.Millisecond) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
}
