package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the DaemonConfig using struct tags and the cross-field
// rules tags alone cannot express.
func (c *DaemonConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateQueueSizing(); err != nil {
		return err
	}
	if err := c.validateRateLimitPair(); err != nil {
		return err
	}
	if err := c.validateMethodPolicies(); err != nil {
		return err
	}

	return nil
}

// validateQueueSizing ensures the dispatch queue can never starve a worker.
func (c *DaemonConfig) validateQueueSizing() error {
	if c.RequestQueueCapacity < c.WorkerCount {
		return fmt.Errorf("request_queue_capacity (%d) must be >= worker_count (%d)", c.RequestQueueCapacity, c.WorkerCount)
	}
	return nil
}

// validateRateLimitPair ensures a burst value is never set without a rate.
func (c *DaemonConfig) validateRateLimitPair() error {
	if c.ConnectBurst != 0 && c.ConnectRatePerSec == 0 {
		return errors.New("connect_burst requires connect_rate_per_sec to be set")
	}
	return nil
}

// validateMethodPolicies rejects empty CEL expressions; an empty entry is
// almost certainly a config typo rather than an intentional always-deny.
func (c *DaemonConfig) validateMethodPolicies() error {
	for name, expr := range c.MethodPolicies {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("method_policies[%s]: expression is empty", name)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
