package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateAutomation(&c.Automation)...)

	if c.Session.DebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "session.debounce_ms", Message: "must not be negative"})
	}

	if c.Storage.Path == "" {
		errs = append(errs, ValidationError{Field: "storage.path", Message: "is required"})
	}
	if c.Storage.HistoryLimit < 0 {
		errs = append(errs, ValidationError{Field: "storage.history_limit", Message: "must not be negative"})
	}

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "is required"})
	}
	if c.Server.ContentRoot == "" {
		errs = append(errs, ValidationError{Field: "server.content_root", Message: "is required"})
	}
	if c.Server.SaveRate < 0 {
		errs = append(errs, ValidationError{Field: "server.save_rate", Message: "must not be negative"})
	}
	if c.Server.SaveRate > 0 && c.Server.SaveBurst < 1 {
		errs = append(errs, ValidationError{Field: "server.save_burst", Message: "must be at least 1 when save_rate is set"})
	}
	if c.Server.MaxTokenFailures < 0 {
		errs = append(errs, ValidationError{Field: "server.max_token_failures", Message: "must not be negative"})
	}

	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAutomation(a *AutomationConfig) ValidationErrors {
	var errs ValidationErrors
	if a.BaseURL != "" {
		u, err := url.Parse(a.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "automation.base_url",
				Message: fmt.Sprintf("invalid URL %q", a.BaseURL),
			})
		}
	}
	if a.RequestTimeoutMs < 0 {
		errs = append(errs, ValidationError{Field: "automation.request_timeout_ms", Message: "must not be negative"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", l.Level)})
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", l.Format)})
	}
	switch strings.ToLower(l.Output) {
	case "", "stderr", "stdout":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "is required for file output"})
		}
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: fmt.Sprintf("unknown output %q", l.Output)})
	}
	return errs
}
