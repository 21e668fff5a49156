package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
)

// ValidationError represents a detailed config validation error
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Config validation error in '%s': %s", e.Field, e.Message)
}

// ValidateDetailed performs comprehensive validation with friendly error messages
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError

	if c.Version != 1 {
		errs = append(errs, ValidationError{
			Field:      "version",
			Value:      c.Version,
			Message:    fmt.Sprintf("Unsupported version: %d", c.Version),
			Suggestion: "Use version: 1",
		})
	}

	if c.General.DataRoot == "" {
		errs = append(errs, ValidationError{
			Field:      "general.data_root",
			Message:    "Required field missing",
			Suggestion: "Set to a directory for modshelf data:\n  data_root: ~/.local/share/modshelf",
		})
	}

	if len(c.Models.Roots) == 0 && len(c.Models.Unsorted) == 0 {
		errs = append(errs, ValidationError{
			Field:      "models.roots",
			Message:    "No model directories configured",
			Suggestion: "Add at least one category:\n  roots:\n    checkpoints: [~/ComfyUI/models/checkpoints]",
		})
	}
	cats := make([]string, 0, len(c.Models.Roots))
	for cat := range c.Models.Roots {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		dirs := c.Models.Roots[cat]
		if !isSupportedType(cat) {
			errs = append(errs, ValidationError{
				Field:      "models.roots." + cat,
				Value:      cat,
				Message:    "Unknown model category",
				Suggestion: "Use one of: " + strings.Join(SupportedModelTypes, ", "),
			})
		}
		for _, d := range dirs {
			if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
				errs = append(errs, ValidationError{
					Field:      "models.roots." + cat,
					Value:      d,
					Message:    "Directory does not exist",
					Suggestion: fmt.Sprintf("Create it or fix the path:\n  mkdir -p %s", d),
				})
			}
		}
	}

	for _, d := range c.Models.Unsorted {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			errs = append(errs, ValidationError{
				Field:      "models.unsorted",
				Value:      d,
				Message:    "Directory does not exist",
				Suggestion: fmt.Sprintf("Create it or remove it from the list:\n  mkdir -p %s", d),
			})
		}
	}
	for i, r := range c.Classifier.Rules {
		if !isSupportedType(r.Type) {
			errs = append(errs, ValidationError{
				Field:      fmt.Sprintf("classifier.rules[%d].type", i),
				Value:      r.Type,
				Message:    "Unknown model category",
				Suggestion: "Use one of: " + strings.Join(SupportedModelTypes, ", "),
			})
		}
	}

	if c.Network.TimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:      "network.timeout_seconds",
			Value:      c.Network.TimeoutSeconds,
			Message:    "Must be at least 1 second",
			Suggestion: "Recommended: 15-60 seconds",
		})
	}

	if c.Network.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:      "network.max_retries",
			Value:      c.Network.MaxRetries,
			Message:    "Must be >= 0",
			Suggestion: "Recommended: 3-5 retries",
		})
	}

	if c.Network.Backoff.MinMS < 0 {
		errs = append(errs, ValidationError{
			Field:      "network.backoff.min_ms",
			Value:      c.Network.Backoff.MinMS,
			Message:    "Must be >= 0",
			Suggestion: "Recommended: 250-1000 ms",
		})
	}

	if c.Network.Backoff.MaxMS < c.Network.Backoff.MinMS {
		errs = append(errs, ValidationError{
			Field:      "network.backoff.max_ms",
			Value:      c.Network.Backoff.MaxMS,
			Message:    "max_ms must be >= min_ms",
			Suggestion: fmt.Sprintf("Set max_ms to at least %d", c.Network.Backoff.MinMS),
		})
	}

	if c.Gallery.Limit < 1 || c.Gallery.Limit > 500 {
		errs = append(errs, ValidationError{
			Field:      "gallery.limit",
			Value:      c.Gallery.Limit,
			Message:    "Must be between 1 and 500",
			Suggestion: "Recommended: 30-100 images",
		})
	}

	if c.Gallery.ProbeConcurrency < 1 || c.Gallery.ProbeConcurrency > 64 {
		errs = append(errs, ValidationError{
			Field:      "gallery.probe_concurrency",
			Value:      c.Gallery.ProbeConcurrency,
			Message:    "Must be between 1 and 64",
			Suggestion: "Recommended: 4-16",
		})
	}

	if c.Sources.CivitAI.Enabled && os.Getenv(c.Sources.CivitAI.TokenEnv) == "" {
		errs = append(errs, ValidationError{
			Field:      "sources.civitai",
			Message:    fmt.Sprintf("CivitAI token enabled but %s not set", c.Sources.CivitAI.TokenEnv),
			Suggestion: fmt.Sprintf("Set the token:\n  export %s=...\n  Get one at: https://civitai.com/user/account", c.Sources.CivitAI.TokenEnv),
		})
	}

	return errs
}

func isSupportedType(t string) bool {
	for _, s := range SupportedModelTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ValidateWithFriendlyErrors returns a user-friendly validation error
func (c *Config) ValidateWithFriendlyErrors() error {
	if err := c.Validate(); err != nil {
		return err
	}

	errs := c.ValidateDetailed()
	if len(errs) == 0 {
		return nil
	}

	var msg strings.Builder
	msg.WriteString("Configuration validation failed:\n\n")

	for i, err := range errs {
		msg.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
		if err.Value != nil {
			msg.WriteString(fmt.Sprintf("   Current value: %v\n", err.Value))
		}
		if err.Suggestion != "" {
			for _, line := range strings.Split(err.Suggestion, "\n") {
				msg.WriteString(fmt.Sprintf("   → %s\n", line))
			}
		}
		msg.WriteString("\n")
	}

	return friendlyerrors.NewFriendlyError(
		"Config validation failed",
		msg.String(),
	).WithDocs("https://github.com/jxwalker/modshelf#configuration")
}
