package unifiedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamErrorType struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 402:
		// Echo answers 402 when the account balance is exhausted.
		return &QuotaExceededError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry. Wrapped errors are
// classified by the first recognised type in their chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		authErr    *AuthenticationError
		deniedErr  *AccessDeniedError
		notFound   *NotFoundError
		invalidErr *InvalidRequestError
		ctxLen     *ContextLengthError
		quotaErr   *QuotaExceededError
		filterErr  *ContentFilterError
		configErr  *ConfigurationError
		abortErr   *AbortError
		rateErr    *RateLimitError
		serverErr  *ServerError
		netErr     *NetworkError
		streamErr  *StreamErrorType
		timeoutErr *RequestTimeoutError
		provErr    *ProviderError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &deniedErr), errors.As(err, &notFound),
		errors.As(err, &invalidErr), errors.As(err, &ctxLen), errors.As(err, &quotaErr),
		errors.As(err, &filterErr), errors.As(err, &configErr), errors.As(err, &abortErr):
		return false
	case errors.As(err, &rateErr), errors.As(err, &serverErr), errors.As(err, &netErr),
		errors.As(err, &streamErr), errors.As(err, &timeoutErr):
		return true
	case errors.As(err, &provErr):
		return provErr.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}
