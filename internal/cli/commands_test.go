package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a quiet config and returns its path
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lanes.json")
	content := `{
		"executor": {"drain_timeout": 5},
		"logging": {"level": "error", "pretty": false},
		"watch": {"debounce_ms": 20},
		"data_dir": "` + dir + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)
	// Subcommands keep the context of a previous run unless it is replaced.
	for _, sub := range cmd.Commands() {
		sub.SetContext(ctx)
	}

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(ctx)
	return output.String(), err
}

func TestRunCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	t.Run("runs every job", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.txt")
		jobsPath := writeJobFile(t, `{"jobs":[
			{"name":"one","lane":"seq","command":["sh","-c","sleep 0.05; echo one >> `+out+`"]},
			{"name":"two","lane":"seq","command":["sh","-c","echo two >> `+out+`"]},
			{"name":"other","lane":"side","command":["true"]}
		]}`)

		stdout, err := execute(t, context.Background(), "--config", cfgPath, "run", "--jobs", jobsPath)
		require.NoError(t, err)
		assert.Contains(t, stdout, "3 job(s) finished, 0 failed")

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("reports failures", func(t *testing.T) {
		jobsPath := writeJobFile(t, `{"jobs":[
			{"name":"ok","command":["true"]},
			{"name":"bad","command":["false"]}
		]}`)

		stdout, err := execute(t, context.Background(), "--config", cfgPath, "run", "--jobs", jobsPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 job(s) failed")
		assert.Contains(t, stdout, "2 job(s) finished, 1 failed")
	})

	t.Run("empty job file", func(t *testing.T) {
		jobsPath := writeJobFile(t, `{"jobs":[]}`)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		start := time.Now()
		stdout, err := execute(t, ctx, "--config", cfgPath, "run", "--jobs", jobsPath)
		require.NoError(t, err)
		assert.Contains(t, stdout, "0 job(s) finished, 0 failed")
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("invalid job file", func(t *testing.T) {
		jobsPath := writeJobFile(t, `{"jobs":[{"name":"x"}]}`)

		_, err := execute(t, context.Background(), "--config", cfgPath, "run", "--jobs", jobsPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema validation failed")
	})
}

func TestScheduleCommandRequiresScheduledJobs(t *testing.T) {
	cfgPath := writeTestConfig(t)
	jobsPath := writeJobFile(t, `{"jobs":[{"name":"once","command":["true"]}]}`)

	_, err := execute(t, context.Background(), "--config", cfgPath, "schedule", "--jobs", jobsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scheduled jobs")
}

func TestScheduleCommandStopsOnContext(t *testing.T) {
	cfgPath := writeTestConfig(t)
	jobsPath := writeJobFile(t, `{"jobs":[{"name":"hourly","command":["true"],"schedule":"@hourly"}]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := execute(t, ctx, "--config", cfgPath, "schedule", "--jobs", jobsPath)
	assert.NoError(t, err)
}

func TestWatchCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)
	watched := t.TempDir()
	out := filepath.Join(t.TempDir(), "seen.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "--config", cfgPath, "watch", "--dir", watched, "--lane-by", "file",
			"--", "sh", "-c", `echo "$LANES_OP $(basename "$LANES_PATH")" >> `+out)
		errCh <- err
	}()

	// Wait for the watcher to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(watched, "hello.txt"), []byte("hi"), 0644))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.Contains(string(data), "hello.txt")
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch command did not stop")
	}
}

func TestWatchCommandRejectsBadLaneBy(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := execute(t, context.Background(), "--config", cfgPath, "watch", "--dir", t.TempDir(), "--lane-by", "host", "--", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lane-by")
}

func TestScheduleCommandUsesContextOfEachRun(t *testing.T) {
	cfgPath := writeTestConfig(t)
	onceJobs := writeJobFile(t, `{"jobs":[{"name":"once","command":["true"]}]}`)
	hourlyJobs := writeJobFile(t, `{"jobs":[{"name":"hourly","command":["true"],"schedule":"@hourly"}]}`)

	// A run with a never-ending context must not leak into the next run.
	_, err := execute(t, context.Background(), "--config", cfgPath, "schedule", "--jobs", onceJobs)
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "--config", cfgPath, "schedule", "--jobs", hourlyJobs)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule ignored the context of its own run")
	}
}
