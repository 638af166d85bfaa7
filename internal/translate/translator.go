// Package translate drives a full EPUB translation run: it batches the
// text segments of each content document, dispatches them to a
// translation backend and rebuilds the archive around the results.
package translate

import (
	"context"
	"errors"
)

var (
	ErrMissingAPIKey = errors.New("translation API key is not set")
	ErrEmptyResponse = errors.New("translation backend returned an empty response")
	ErrSegmentCount  = errors.New("translation backend returned a mismatched segment count")
	ErrNoDocuments   = errors.New("no translatable documents found in archive")
)

// Request is one ordered batch of segments sent to a translation
// backend. The backend must return one translation per segment, in
// order, leaving any embedded markup untouched.
type Request struct {
	Model      string
	SourceLang string
	TargetLang string
	Segments   []string
}

// Translator is the translation backend boundary.
type Translator interface {
	Translate(ctx context.Context, req Request) ([]string, error)
}
