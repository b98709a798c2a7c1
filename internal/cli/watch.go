package cli

import (
	"fmt"

	"github.com/harun/lanes/pkg/jobs"
	"github.com/spf13/cobra"
)

var (
	watchDir     string
	watchLaneBy  string
	watchTimeout string
)

var watchCmd = &cobra.Command{
	Use:   "watch --dir DIR [--lane-by file|dir] -- CMD [ARGS...]",
	Short: "Run a command for every changed file",
	Long: `Watch a directory tree and run CMD for every changed file. Changes to the
same file (or directory, with --lane-by dir) are handled one at a time in
order. The command sees the path in LANES_PATH and the operation in LANES_OP.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", ".", "directory to watch")
	watchCmd.Flags().StringVar(&watchLaneBy, "lane-by", string(jobs.LaneByFile), "lane per file or per dir")
	watchCmd.Flags().StringVar(&watchTimeout, "timeout", "", "per-run command timeout (e.g. 30s)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	laneBy, err := jobs.ParseLaneBy(watchLaneBy)
	if err != nil {
		return err
	}
	if _, err := (jobs.Job{Name: "watch", Timeout: watchTimeout}).TimeoutDuration(); err != nil {
		return err
	}

	d, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer teardown(d)

	if err := d.Start(); err != nil {
		return err
	}

	zl := d.GetLogger().GetZerolog()
	watcher, err := jobs.NewWatcher(d.Registry(), jobs.WatcherConfig{
		Dir:      watchDir,
		LaneBy:   laneBy,
		Debounce: d.GetConfig().Debounce(),
		Work:     jobs.EnvWork(args, watchTimeout, zl),
		Logger:   zl,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	d.Wait(cmd.Context())

	return watcher.Stop()
}
