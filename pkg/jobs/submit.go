package jobs

import (
	"context"
	"fmt"

	"github.com/harun/lanes/pkg/lanes"
	"github.com/rs/zerolog"
)

// Submitter accepts work for a named lane. *lanes.Registry satisfies it.
type Submitter interface {
	SubmitWithContext(ctx context.Context, name string, work lanes.Work, options *lanes.TaskOptions) (string, error)
}

// SubmitAll submits every job in file to its lane in file order and returns
// the task IDs keyed by job name. It stops at the first rejected job.
func SubmitAll(ctx context.Context, sub Submitter, file *File, logger zerolog.Logger) (map[string]string, error) {
	ids := make(map[string]string, len(file.Jobs))
	for _, job := range file.Jobs {
		taskID, err := sub.SubmitWithContext(ctx, job.Lane, CommandWork(job, logger), nil)
		if err != nil {
			return ids, fmt.Errorf("failed to submit job %q: %w", job.Name, err)
		}
		ids[job.Name] = taskID

		logger.Debug().
			Str("job", job.Name).
			Str("lane", job.Lane).
			Str("task_id", taskID).
			Msg("Job submitted")
	}
	return ids, nil
}
