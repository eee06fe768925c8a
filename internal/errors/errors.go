package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Base error types
var (
	ErrTransport       = errors.New("transport failure")
	ErrServerRejected  = errors.New("server rejected request")
	ErrServerFault     = errors.New("server fault")
	ErrEmptyResponse   = errors.New("empty response")
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingParams   = errors.New("missing required parameters")
	ErrUnknownResponse = errors.New("unrecognized response status")
)

// Kind tags an API failure with the code surfaced to callers.
type Kind string

const (
	KindHTTPError              Kind = "http_error"
	KindNoResponseCode         Kind = "no_response_code"
	KindValidationFailed       Kind = "validation_failed"
	KindInternalServerError    Kind = "internal_server_error"
	KindUnexpectedResponseCode Kind = "unexpected_response_code"
	KindNoResponse             Kind = "no_response"
	KindInvalidJSON            Kind = "invalid_json"
	KindInvalidAction          Kind = "invalid_action"
	KindMissingParams          Kind = "missing_params"
)

// APIError is the failure half of a license server round-trip.
type APIError struct {
	Kind       Kind
	Action     string // license server action (e.g. "activate")
	Message    string // text safe to show to an administrator
	StatusCode int    // HTTP status code if one was received
	Err        error  // underlying transport or decode error
	Timestamp  time.Time
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Action != "" {
		return fmt.Sprintf("%s %s: %s", e.Action, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *APIError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrTransport:
		return e.Kind == KindHTTPError || e.Kind == KindNoResponseCode
	case ErrServerRejected:
		return e.Kind == KindValidationFailed || e.Kind == KindUnexpectedResponseCode
	case ErrServerFault:
		return e.Kind == KindInternalServerError
	case ErrEmptyResponse:
		return e.Kind == KindNoResponse
	case ErrInvalidInput:
		return e.Kind == KindInvalidAction || e.Kind == KindMissingParams
	}

	return errors.Is(e.Err, target)
}

// NewAPIError creates a new APIError
func NewAPIError(kind Kind, action, message string, err error) *APIError {
	return &APIError{
		Kind:      kind,
		Action:    action,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatusCode records the HTTP status code on the error.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Retryable reports whether repeating the call later could succeed.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindHTTPError, KindNoResponseCode, KindInternalServerError, KindNoResponse:
		return true
	case KindUnexpectedResponseCode:
		return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
	default:
		return false
	}
}

// KindOf returns the Kind of an APIError anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, ErrTransport)
}

// ContractError reports a request that was rejected before reaching the network.
type ContractError struct {
	Op      string
	Missing []string          // required parameters that were empty
	Invalid map[string]string // parameter -> reason
}

func (e *ContractError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		invalid := make([]string, 0, len(keys))
		for _, k := range keys {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", k, e.Invalid[k]))
		}
		parts = append(parts, "invalid "+strings.Join(invalid, ", "))
	}
	if e.Op == "" {
		return strings.Join(parts, "; ")
	}
	return fmt.Sprintf("%s: %s", e.Op, strings.Join(parts, "; "))
}

// Is implements errors.Is interface
func (e *ContractError) Is(target error) bool {
	switch target {
	case ErrMissingParams:
		return len(e.Missing) > 0
	case ErrInvalidInput:
		return true
	}
	return false
}

// Empty reports whether no violation was recorded.
func (e *ContractError) Empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// RequireParams returns a ContractError naming every key whose value is blank, or nil.
func RequireParams(op string, params map[string]string, keys ...string) error {
	var missing []string
	for _, key := range keys {
		if strings.TrimSpace(params[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ContractError{Op: op, Missing: missing}
}
