package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/lanes/internal/metrics"
	"github.com/harun/lanes/internal/tracing"
	"github.com/harun/lanes/pkg/lanes"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const maxLoggedOutput = 4096

// CommandWork returns a work item that runs the job's command. The command
// is killed when the lane is cancelled or the job timeout elapses.
func CommandWork(job Job, base zerolog.Logger) lanes.Work {
	return func(ctx context.Context) error {
		timeout, err := job.TimeoutDuration()
		if err != nil {
			return err
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		logger := tracing.LoggerFromContext(ctx, base).With().Str("job", job.Name).Logger()

		cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
		cmd.Dir = job.Dir
		cmd.Env = mergeEnv(os.Environ(), job.Env)
		cmd.WaitDelay = time.Second

		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output

		start := time.Now()
		runErr := cmd.Run()
		duration := time.Since(start)

		out := strings.TrimSpace(output.String())
		if len(out) > maxLoggedOutput {
			out = out[len(out)-maxLoggedOutput:]
		}

		if runErr != nil {
			kind := "exit"
			if ctxErr := ctx.Err(); ctxErr != nil {
				runErr = fmt.Errorf("%w: %w", runErr, ctxErr)
				kind = "cancelled"
				if errors.Is(ctxErr, context.DeadlineExceeded) {
					kind = "timeout"
				}
			}
			metrics.Default().RecordJobRun(job.Name, duration, kind)
			logger.Warn().
				Err(runErr).
				Dur("duration", duration).
				Str("output", out).
				Msg("Job failed")
			return fmt.Errorf("job %q: %w", job.Name, runErr)
		}

		metrics.Default().RecordJobRun(job.Name, duration, "")
		logger.Info().
			Dur("duration", duration).
			Str("output", out).
			Msg("Job finished")
		return nil
	}
}

// mergeEnv overlays extra onto base in KEY=VALUE form, in a stable order.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	keys := maps.Keys(extra)
	slices.Sort(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
