package audio

import "fmt"

// DecodeError reports a byte stream that is not a readable PCM WAV container.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio: decode: %s", e.Message)
	}
	return fmt.Sprintf("audio: decode: %s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *DecodeError) Unwrap() error { return e.Err }

// FormatError reports a container that decoded cleanly but holds no signal.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio: format: %s", e.Message)
}
