package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/lanes/pkg/jobs"
	"github.com/spf13/cobra"
)

var scheduleJobsFile string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled jobs until interrupted",
	Long: `Register every job in the job file that carries a "schedule" and submit
it to its lane on each cron tick. Runs until SIGINT or SIGTERM.`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleJobsFile, "jobs", "", "job file (JSON)")
	_ = scheduleCmd.MarkFlagRequired("jobs")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	d, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer teardown(d)

	file, err := loadJobFile(d, scheduleJobsFile)
	if err != nil {
		return err
	}

	scheduled := file.Scheduled()
	if len(scheduled) == 0 {
		return fmt.Errorf("no scheduled jobs in %s", scheduleJobsFile)
	}

	if err := d.Start(); err != nil {
		return err
	}

	scheduler := jobs.NewScheduler(d.Registry(), d.GetLogger().GetZerolog())
	for _, job := range scheduled {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}
	scheduler.Start()

	d.Wait(cmd.Context())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		d.GetLogger().Warn().Err(err).Msg("Scheduler did not stop cleanly")
	}
	return nil
}
