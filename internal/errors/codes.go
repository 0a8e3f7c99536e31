// Package errors provides the engine's structured error taxonomy and its
// mapping onto gRPC status codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Pull errors
	CodeCatalogExhausted Code = "CATALOG_EXHAUSTED"
	CodeUnknownStream    Code = "UNKNOWN_STREAM"
	CodeUnknownBatchSize Code = "UNKNOWN_BATCH_SIZE"

	// Fusion errors
	CodeInsufficientMaterials Code = "INSUFFICIENT_MATERIALS"
	CodeInvalidFusionState    Code = "INVALID_FUSION_STATE"

	// Content errors
	CodeConfigurationInvariantViolation Code = "CONFIGURATION_INVARIANT_VIOLATION"

	// Generic errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument,
		CodeUnknownBatchSize:
		return codes.InvalidArgument

	// State doesn't allow the operation; caller may retry after acquiring more items.
	case CodeInsufficientMaterials,
		CodeInvalidFusionState:
		return codes.FailedPrecondition

	case CodeNotFound,
		CodeUnknownStream:
		return codes.NotFound

	// Content or configuration bugs.
	case CodeCatalogExhausted,
		CodeConfigurationInvariantViolation:
		return codes.Internal

	default:
		return codes.Unknown
	}
}
