package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	loader, err := NewLoader(zerolog.Nop())
	require.NoError(t, err)
	return loader
}

func TestLoaderParse(t *testing.T) {
	loader := newTestLoader(t)

	t.Run("valid file", func(t *testing.T) {
		file, err := loader.Parse([]byte(`{
			"jobs": [
				{"name": "build", "lane": "ci", "command": ["make", "build"], "timeout": "1m30s"},
				{"name": "report", "command": ["true"], "schedule": "*/5 * * * *", "env": {"A": "1"}}
			]
		}`))
		require.NoError(t, err)
		require.Len(t, file.Jobs, 2)
		assert.Equal(t, "ci", file.Jobs[0].Lane)
		assert.Equal(t, []string{"make", "build"}, file.Jobs[0].Command)
		assert.Equal(t, "1", file.Jobs[1].Env["A"])

		scheduled := file.Scheduled()
		require.Len(t, scheduled, 1)
		assert.Equal(t, "report", scheduled[0].Name)
	})

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"missing jobs", `{}`, "schema validation failed"},
		{"missing command", `{"jobs":[{"name":"x"}]}`, "schema validation failed"},
		{"empty command", `{"jobs":[{"name":"x","command":[]}]}`, "schema validation failed"},
		{"reserved lane", `{"jobs":[{"name":"x","lane":"*","command":["true"]}]}`, "schema validation failed"},
		{"unknown field", `{"jobs":[{"name":"x","command":["true"],"retries":3}]}`, "schema validation failed"},
		{"bad timeout", `{"jobs":[{"name":"x","command":["true"],"timeout":"soon"}]}`, "schema validation failed"},
		{"bad schedule", `{"jobs":[{"name":"x","command":["true"],"schedule":"every tuesday"}]}`, "invalid cron expression"},
		{"duplicate names", `{"jobs":[{"name":"x","command":["true"]},{"name":"x","command":["false"]}]}`, "duplicate job name"},
		{"not json", `{jobs`, "schema validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.doc))
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoaderLoadFile(t *testing.T) {
	loader := newTestLoader(t)

	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"jobs":[{"name":"a","command":["true"]}]}`), 0644))

	file, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Jobs, 1)

	_, err = loader.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestJobTimeoutDuration(t *testing.T) {
	d, err := Job{Name: "a"}.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = Job{Name: "a", Timeout: "250ms"}.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, int64(250), d.Milliseconds())

	_, err = Job{Name: "a", Timeout: "nope"}.TimeoutDuration()
	assert.Error(t, err)
}
