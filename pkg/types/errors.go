package types

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is without caring about the details.
var (
	ErrInvalidOptionsType           = errors.New("invalid options type")
	ErrUnsupportedRole              = errors.New("unsupported message role")
	ErrDimensionMismatch            = errors.New("embedding dimension mismatch")
	ErrNonUnitVector                = errors.New("vector is not unit length")
	ErrEmbeddingProviderUnavailable = errors.New("embedding provider unavailable")
	ErrEmbedding                    = errors.New("embedding failed")
	ErrInvalidSearchRequest         = errors.New("invalid search request")
	ErrProviderNotInitialized       = errors.New("provider not initialized")
	ErrBackend                      = errors.New("storage backend error")
)

// InvalidOptionsTypeError is returned when a prompt carries options of a kind
// the chat path cannot interpret, such as embedding options.
type InvalidOptionsTypeError struct {
	Kind string
}

func (e *InvalidOptionsTypeError) Error() string {
	return fmt.Sprintf("%s: expected chat options, got %q", ErrInvalidOptionsType, e.Kind)
}

func (e *InvalidOptionsTypeError) Unwrap() error { return ErrInvalidOptionsType }

// UnsupportedRoleError names the offending message by its position in the prompt.
type UnsupportedRoleError struct {
	Index int
	Role  string
}

func (e *UnsupportedRoleError) Error() string {
	return fmt.Sprintf("%s: message %d has role %q", ErrUnsupportedRole, e.Index, e.Role)
}

func (e *UnsupportedRoleError) Unwrap() error { return ErrUnsupportedRole }

// DimensionMismatchError reports a vector whose length differs from the
// dimension a store was configured with.
type DimensionMismatchError struct {
	ID   string
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: document %q has %d dimensions, store expects %d", ErrDimensionMismatch, e.ID, e.Got, e.Want)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NonUnitVectorError reports a vector given to a dot-product store whose
// length is not 1
type NonUnitVectorError struct {
	ID   string
	Norm float64
}

func (e *NonUnitVectorError) Error() string {
	return fmt.Sprintf("%s: document %q has norm %.4f", ErrNonUnitVector, e.ID, e.Norm)
}

func (e *NonUnitVectorError) Unwrap() error { return ErrNonUnitVector }

// IsPermanent reports whether err is a caller-misuse error that will fail
// the same way no matter how often it is retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidOptionsType) ||
		errors.Is(err, ErrUnsupportedRole) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrNonUnitVector) ||
		errors.Is(err, ErrInvalidSearchRequest) ||
		errors.Is(err, ErrProviderNotInitialized)
}
