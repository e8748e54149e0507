package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "builder.timeout_minutes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
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

// branchPrefixRegex validates branch prefix characters
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_/-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateBranch()...)
	errors = append(errors, c.validateBuilder()...)
	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateValidation()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateBranch() []ValidationError {
	var errors []ValidationError

	for field, prefix := range map[string]string{
		"branch.ticket_prefix": c.Branch.TicketPrefix,
		"branch.epic_prefix":   c.Branch.EpicPrefix,
	} {
		if !branchPrefixRegex.MatchString(prefix) || strings.HasSuffix(prefix, "/") {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   prefix,
				Message: "must start with a letter and contain only letters, digits, '-', '_' or '/'",
			})
		}
	}
	if c.Branch.TicketPrefix != "" && c.Branch.TicketPrefix == c.Branch.EpicPrefix {
		errors = append(errors, ValidationError{
			Field:   "branch.ticket_prefix",
			Value:   c.Branch.TicketPrefix,
			Message: "must differ from branch.epic_prefix",
		})
	}

	// Keep output order stable for callers that print the list.
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateBuilder() []ValidationError {
	var errors []ValidationError

	if c.Builder.TimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "builder.timeout_minutes",
			Value:   c.Builder.TimeoutMinutes,
			Message: "must be positive",
		})
	}
	if c.Builder.SpawnRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "builder.spawn_retries",
			Value:   c.Builder.SpawnRetries,
			Message: "must be non-negative",
		})
	}
	if c.Builder.RetryInitialMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "builder.retry_initial_ms",
			Value:   c.Builder.RetryInitialMs,
			Message: "must be positive",
		})
	}
	if c.Builder.RetryMaxMs < c.Builder.RetryInitialMs {
		errors = append(errors, ValidationError{
			Field:   "builder.retry_max_ms",
			Value:   c.Builder.RetryMaxMs,
			Message: "must be at least builder.retry_initial_ms",
		})
	}

	return errors
}

func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError

	// Branch stacking is only deterministic with a single in-flight ticket.
	if c.Execution.MaxInFlight != 1 {
		errors = append(errors, ValidationError{
			Field:   "execution.max_in_flight",
			Value:   c.Execution.MaxInFlight,
			Message: "only 1 is supported",
		})
	}
	if strings.TrimSpace(c.Execution.StateDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "execution.state_dir",
			Value:   c.Execution.StateDir,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateValidation() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Validation.ProtectedPaths {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("validation.protected_paths[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
