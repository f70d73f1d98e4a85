package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeTransport represents network, timeout and retry-exhausted HTTP errors
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeForbidden represents an HTTP 403 from the upstream API
	ErrorTypeForbidden ErrorType = "forbidden"
	// ErrorTypeGraphQLTransient represents a GraphQL "Internal Error" that may be retried
	ErrorTypeGraphQLTransient ErrorType = "graphql_transient"
	// ErrorTypeGraphQLFatal represents any other GraphQL error
	ErrorTypeGraphQLFatal ErrorType = "graphql_fatal"
	// ErrorTypeDecode represents malformed JSON or a missing data key
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeCatalogUnavailable represents a manufacturer list that cannot be loaded
	ErrorTypeCatalogUnavailable ErrorType = "catalog_unavailable"
	// ErrorTypePublish represents bus publishing errors
	ErrorTypePublish ErrorType = "publish"
	// ErrorTypeStorage represents database errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// CrawlerError represents a typed error raised anywhere in the crawl or ingest path
type CrawlerError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *CrawlerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *CrawlerError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *CrawlerError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTransport, ErrorTypeGraphQLTransient, ErrorTypeStorage:
		return true
	case ErrorTypeForbidden:
		// 403s go through the pause policy, never a blind retry
		return false
	default:
		return false
	}
}

// IsRetryable reports whether err is worth trying again later. Errors that
// are not CrawlerErrors count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *CrawlerError
	if stderrors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return true
}

// IsType reports whether err (or anything it wraps) is a CrawlerError of type t
func IsType(err error, t ErrorType) bool {
	var ce *CrawlerError
	if stderrors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}

// New creates a new CrawlerError
func New(errType ErrorType, source, message string, err error) *CrawlerError {
	return &CrawlerError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewTransport creates a new transport error
func NewTransport(source, message string, err error) *CrawlerError {
	return New(ErrorTypeTransport, source, message, err)
}

// NewForbidden creates a new forbidden error
func NewForbidden(source, url string) *CrawlerError {
	return New(ErrorTypeForbidden, source, "forbidden: "+url, nil)
}

// NewGraphQLTransient creates a new transient GraphQL error
func NewGraphQLTransient(source, message string) *CrawlerError {
	return New(ErrorTypeGraphQLTransient, source, message, nil)
}

// NewGraphQLFatal creates a new fatal GraphQL error
func NewGraphQLFatal(source, message string) *CrawlerError {
	return New(ErrorTypeGraphQLFatal, source, message, nil)
}

// NewDecode creates a new decode error
func NewDecode(source, message string, err error) *CrawlerError {
	return New(ErrorTypeDecode, source, message, err)
}

// NewCatalogUnavailable creates a new catalog error
func NewCatalogUnavailable(message string, err error) *CrawlerError {
	return New(ErrorTypeCatalogUnavailable, "catalog", message, err)
}

// NewPublish creates a new publisher error
func NewPublish(source, message string, err error) *CrawlerError {
	return New(ErrorTypePublish, source, message, err)
}

// NewStorage creates a new storage error
func NewStorage(source, message string, err error) *CrawlerError {
	return New(ErrorTypeStorage, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *CrawlerError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *CrawlerError {
	return New(ErrorTypeConfiguration, "", message, err)
}
