package encoder

import "github.com/pkg/errors"

var (
	// ErrUnsupported is returned when encoding for prediction (do_predict), which is not implemented.
	ErrUnsupported = errors.New("operation not supported")

	// ErrShapeInvariant is returned if an encoded example doesn't have the expected fixed shapes.
	// It signals a bug in the encoder, not a problem with the input.
	ErrShapeInvariant = errors.New("encoded example shape invariant violated")
)
