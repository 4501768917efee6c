package twitter

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream API failure by what it means for the account
// being fetched, not by the raw HTTP status.
type Kind int

const (
	// KindUnknown covers transient and unclassified upstream failures.
	KindUnknown Kind = iota
	// KindRateLimited means the request budget is exhausted; the caller
	// should stop fetching until the window resets.
	KindRateLimited
	// KindForbidden means the profile is protected and cannot be fetched.
	KindForbidden
	// KindNotFound means the profile does not exist (deleted or renamed).
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate limited"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("twitter: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("twitter: %s (status %d)", e.Kind, e.StatusCode)
}

// Classify extracts the API error kind from err. Plain errors (network,
// context) classify as KindUnknown.
func Classify(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func kindFromStatus(code int) Kind {
	switch code {
	case 429:
		return KindRateLimited
	case 401, 403:
		return KindForbidden
	case 404:
		return KindNotFound
	default:
		return KindUnknown
	}
}
