package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid query execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payment processing errors
	ErrInvalidAmount        = errors.New("payment amount must be positive")
	ErrProviderDisabled     = errors.New("payment provider is disabled or misconfigured")
	ErrNoProviderAvailable  = errors.New("no payment provider available")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrDecryptionFailed     = errors.New("webhook payload decryption failed")
	ErrUnsupportedOperation = errors.New("operation not supported by this provider")
	ErrUpstreamTimeout      = errors.New("payment gateway request timed out")
	ErrUpstreamRejected     = errors.New("payment gateway rejected the request")
)
