package jobs

import (
	"fmt"
	"time"
)

// File is the top-level job file document
type File struct {
	Jobs []Job `json:"jobs"`
}

// Job describes one command and the lane it runs on
type Job struct {
	Name     string            `json:"name"`
	Lane     string            `json:"lane,omitempty"`
	Command  []string          `json:"command"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
	Schedule string            `json:"schedule,omitempty"`
}

// TimeoutDuration parses Timeout. An empty timeout means none.
func (j Job) TimeoutDuration() (time.Duration, error) {
	if j.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(j.Timeout)
	if err != nil {
		return 0, fmt.Errorf("job %q: invalid timeout %q: %w", j.Name, j.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("job %q: timeout must not be negative", j.Name)
	}
	return d, nil
}

// Scheduled returns the jobs that carry a schedule
func (f *File) Scheduled() []Job {
	var out []Job
	for _, job := range f.Jobs {
		if job.Schedule != "" {
			out = append(out, job)
		}
	}
	return out
}
