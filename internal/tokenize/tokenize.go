// Package tokenize defines the seam between this module and the external
// PDF tokenizer. Per spec §1, tokenization itself is out of scope: the
// caller is expected to supply a concrete WordSource, typically backed by
// a PDF text-extraction library such as unidoc/unipdf, which yields words
// with page-relative bounding boxes.
package tokenize

import (
	"errors"

	"github.com/agen/fieldextract/internal/word"
)

// WordSource tokenizes a PDF document into page-indexed words. Callers
// wire a concrete implementation (e.g. one built on unidoc/unipdf's page
// text extractor) into the extraction facade; this module never parses
// PDF bytes itself.
type WordSource interface {
	// Tokenize returns every word on every page of the document, in
	// the order the underlying library produced them. Implementations
	// must populate PageIndex, and the X0/Y0/X1/Y1 bounding box in the
	// same coordinate space the template was analyzed in.
	Tokenize(pdfBytes []byte) ([]word.Word, error)
}

// WordSourceFunc adapts a plain function to WordSource.
type WordSourceFunc func(pdfBytes []byte) ([]word.Word, error)

// Tokenize calls f.
func (f WordSourceFunc) Tokenize(pdfBytes []byte) ([]word.Word, error) {
	return f(pdfBytes)
}

var errNoTokenizer = errors.New("tokenize: no PDF tokenizer wired; build with a WordSource backed by a PDF text extractor such as unidoc/unipdf")

// Unavailable is the WordSource cmd/fieldextract falls back to when no
// concrete tokenizer has been wired in. It always fails, so a deployment
// that forgets to plug one in gets a clear error at extraction time
// rather than a silent empty-word result.
func Unavailable() WordSource {
	return WordSourceFunc(func([]byte) ([]word.Word, error) {
		return nil, errNoTokenizer
	})
}
