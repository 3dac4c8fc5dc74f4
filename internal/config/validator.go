package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{"endpoint", c.Endpoint, "must be an http or https URL"})
		}
	}
	if c.DataDir == "" {
		errs = append(errs, ValidationError{"data_dir", c.DataDir, "is required"})
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"sync.interval", c.Sync.Interval},
		{"queue.debounce", c.Queue.Debounce},
		{"tombstone.retention", c.Tombstone.Retention},
		{"history.retention", c.History.Retention},
		{"transport.timeout", c.Transport.Timeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{p.field, p.value, "must be positive"})
		}
	}
	if c.Sync.InitialDelay < 0 {
		errs = append(errs, ValidationError{"sync.initial_delay", c.Sync.InitialDelay, "must not be negative"})
	}
	if c.Sync.MinServerVersion < 0 {
		errs = append(errs, ValidationError{"sync.min_server_version", c.Sync.MinServerVersion, "must not be negative"})
	}
	if c.Tombstone.Retention > 0 && c.Tombstone.Retention < c.History.Retention {
		errs = append(errs, ValidationError{"tombstone.retention", c.Tombstone.Retention,
			"must be at least history.retention so completed ids stay suppressed"})
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, ValidationError{"dashboard.port", c.Dashboard.Port, "must be between 0 and 65535"})
	}

	if c.Log.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{"log.max_size_mb", c.Log.MaxSizeMB, "must not be negative"})
	}
	if c.Log.MaxBackups < 0 {
		errs = append(errs, ValidationError{"log.max_backups", c.Log.MaxBackups, "must not be negative"})
	}
	if c.Log.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{"log.max_age_days", c.Log.MaxAgeDays, "must not be negative"})
	}

	return errs
}
