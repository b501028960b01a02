package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/steprate/pkg/jsonschema"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the configuration.
//
// Returns nil if valid, or a *ValidationErrors listing every problem found.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(c, errs)
	validateSchedule(c, errs)
	validateTransport(c, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(c *Config, errs *ValidationErrors) {
	if c.BaseURL == "" {
		errs.Add("baseUrl", "is required")
	} else {
		u, err := url.Parse(c.BaseURL)
		switch {
		case err != nil:
			errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs.Add("baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
		case u.Host == "":
			errs.Add("baseUrl", "host is required")
		}
	}

	if strings.ContainsAny(c.Path, " \t\n") {
		errs.Add("path", "must not contain whitespace")
	}

	if c.ResponseSchema != "" {
		if _, err := jsonschema.Compile(c.ResponseSchema); err != nil {
			errs.Add("responseSchema", err.Error())
		}
	}
}

func validateSchedule(c *Config, errs *ValidationErrors) {
	if c.DurationSeconds < 0 {
		errs.Add("durationSeconds", "cannot be negative")
	}
	if c.InitialRate < 0 {
		errs.Add("initialRate", "cannot be negative")
	}
	if c.StepIntervalSeconds <= 0 {
		errs.Add("stepIntervalSeconds", "must be > 0")
	}
	if c.StepSize < 0 {
		errs.Add("stepSize", "cannot be negative")
	}
	if c.MaxWorkers < 0 {
		errs.Add("maxWorkers", "cannot be negative")
	}
}

func validateTransport(c *Config, errs *ValidationErrors) {
	if c.Timeout < 0 {
		errs.Add("timeout", "cannot be negative")
	}
	if c.SnapshotInterval < 0 {
		errs.Add("snapshotInterval", "cannot be negative")
	}
	if c.Window < 0 {
		errs.Add("window", "cannot be negative")
	}
	if c.MaxConnections < 0 {
		errs.Add("maxConnections", "cannot be negative")
	}
	if c.MaxConnectionsPerHost < 0 {
		errs.Add("maxConnectionsPerHost", "cannot be negative")
	}
	if c.MaxConnections > 0 && c.MaxConnectionsPerHost > c.MaxConnections {
		errs.Add("maxConnectionsPerHost", fmt.Sprintf("cannot exceed maxConnections (%d)", c.MaxConnections))
	}
}
