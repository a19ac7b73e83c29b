package recognition

import "context"

// Recognizer defines the interface for text recognition over an image.
// The returned text is a noisy, untrusted hint: callers parse it with
// their own heuristics and never rely on its accuracy.
type Recognizer interface {
	// Recognize transcribes the text visible in an image or PDF. An
	// empty string with a nil error means nothing was readable.
	Recognize(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}

// Noop is a Recognizer that recognizes nothing. It backs configurations
// where on-device recognition is unavailable or switched off.
type Noop struct{}

func (Noop) Recognize(ctx context.Context, imageData []byte, contentType string) (string, error) {
	return "", nil
}

func (Noop) Close() error { return nil }
