package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrMalformedDescriptor = errors.New("malformed descriptor")
	ErrIOFailure           = errors.New("io failure")
	ErrRemoteCall          = errors.New("remote call failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrIOFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the short failure kind reported in logs and the
// routing journal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "config_error"
	case errors.Is(err, ErrMalformedDescriptor):
		return "malformed_descriptor"
	case errors.Is(err, ErrRemoteCall):
		return "remote_call_failure"
	default:
		return "io_failure"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
