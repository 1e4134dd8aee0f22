package errors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalid              = errors.New("invalid")
	ErrMismatchedInput      = errors.New("texts and metadata length mismatch")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrStorageWrite         = errors.New("storage write failure")
	ErrDuplicateChunk       = errors.New("duplicate chunk")
	ErrCodec                = errors.New("corrupt vector blob")
	ErrSchemaDrift          = errors.New("schema drift")
	ErrDimensionMismatch    = errors.New("vector dimension mismatch")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsEmbeddingUnavailable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateChunk)
}
