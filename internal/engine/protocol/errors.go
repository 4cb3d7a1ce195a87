package protocol

import (
	"errors"
	"fmt"
)

// Decode error kinds. Every error returned by Decode wraps exactly one of them.
var (
	ErrTruncated           = errors.New("truncated")
	ErrInvalidLength       = errors.New("invalid length")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrFragment            = errors.New("non-initial fragment")
)

// DecodeError reports why a buffer could not be turned into a PacketView.
type DecodeError struct {
	Kind  error
	Layer string
	Need  int
	Have  int
}

func (e *DecodeError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("%s: %v (need %d bytes, have %d)", e.Layer, e.Kind, e.Need, e.Have)
	}
	return fmt.Sprintf("%s: %v", e.Layer, e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func truncated(layer string, need, have int) error {
	return &DecodeError{Kind: ErrTruncated, Layer: layer, Need: need, Have: have}
}

func invalidLength(layer string, need, have int) error {
	return &DecodeError{Kind: ErrInvalidLength, Layer: layer, Need: need, Have: have}
}

func unsupported(layer string) error {
	return &DecodeError{Kind: ErrUnsupportedProtocol, Layer: layer}
}

// Reason returns a short metric label for a decode error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrUnsupportedProtocol):
		return "unsupported_protocol"
	case errors.Is(err, ErrFragment):
		return "fragment"
	default:
		return "unknown"
	}
}
