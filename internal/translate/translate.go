// Package translate abstracts the machine translation provider behind a
// single-call interface and implements the DeepL HTTP client.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaExceeded signals the provider's character budget is spent. The
// caller requeues the item and stops until the budget relaxes.
var ErrQuotaExceeded = errors.New("translation quota exceeded")

// UnexpectedResponseError carries a provider status the client cannot map.
type UnexpectedResponseError struct {
	StatusCode int
	Body       string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected provider response: status %d: %s", e.StatusCode, e.Body)
}

// Translator converts one text from a source to a target language.
type Translator interface {
	Name() string
	Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error)
}
