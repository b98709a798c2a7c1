package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Loader reads and validates job files
type Loader struct {
	logger zerolog.Logger
	schema *gojsonschema.Schema
}

// NewLoader creates a job file loader
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(FileSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile job schema: %w", err)
	}
	return &Loader{
		logger: logger.With().Str("component", "job-loader").Logger(),
		schema: schema,
	}, nil
}

// LoadFile reads a job file from disk
func (l *Loader) LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	file, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Int("jobs", len(file.Jobs)).
		Msg("Job file loaded")

	return file, nil
}

// Parse validates data against FileSchema and decodes it
func (l *Loader) Parse(data []byte) (*File, error) {
	if err := l.validateSchema(data); err != nil {
		return nil, fmt.Errorf("job file schema validation failed: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file JSON: %w", err)
	}

	seen := make(map[string]bool, len(file.Jobs))
	for _, job := range file.Jobs {
		if seen[job.Name] {
			return nil, fmt.Errorf("duplicate job name %q", job.Name)
		}
		seen[job.Name] = true

		if _, err := job.TimeoutDuration(); err != nil {
			return nil, err
		}
		if job.Schedule != "" {
			if _, err := ParseSchedule(job.Schedule); err != nil {
				return nil, fmt.Errorf("job %q: %w", job.Name, err)
			}
		}
	}

	return &file, nil
}

// validateSchema validates the document against the job schema
func (l *Loader) validateSchema(data []byte) error {
	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}
