package thing

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Normalizer turns a thing response into a stream of field sets.
type Normalizer struct {
	extractor *Extractor
}

// NewNormalizer creates a normalizer that delegates each item to extractor.
func NewNormalizer(extractor *Extractor) *Normalizer {
	if extractor == nil {
		extractor = NewExtractor(DefaultOptions())
	}
	return &Normalizer{extractor: extractor}
}

// Columns returns the output columns of the underlying extractor.
func (n *Normalizer) Columns() []string {
	return n.extractor.Columns()
}

// apiError is the document BGG returns in place of <items> on a bad request.
type apiError struct {
	Message string `xml:"message"`
	Errors  []struct {
		Message string `xml:"message"`
	} `xml:"error"`
}

func (a apiError) text() string {
	msgs := make([]string, 0, len(a.Errors)+1)
	if m := strings.TrimSpace(a.Message); m != "" {
		msgs = append(msgs, m)
	}
	for _, e := range a.Errors {
		if m := strings.TrimSpace(e.Message); m != "" {
			msgs = append(msgs, m)
		}
	}
	return strings.Join(msgs, "; ")
}

// Parse decodes r item by item. Items are yielded in response order, which
// is not necessarily request order; callers must key by FieldSet.ID. The
// first error is yielded once and ends the sequence. r is consumed, so the
// sequence can only be iterated once.
func (n *Normalizer) Parse(r io.Reader) iter.Seq2[FieldSet, error] {
	return func(yield func(FieldSet, error) bool) {
		dec := xml.NewDecoder(r)
		sawRoot := false

		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				if !sawRoot {
					yield(FieldSet{}, missing("", "items"))
				}
				return
			}
			if err != nil {
				yield(FieldSet{}, &ParseError{Err: err})
				return
			}

			start, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}

			if !sawRoot {
				sawRoot = true
				if start.Name.Local != "items" {
					yield(FieldSet{}, rootError(dec, start))
					return
				}
				continue
			}

			// Every start element after the root is a direct child, because
			// DecodeElement and Skip consume whole subtrees.
			if start.Name.Local != "item" {
				if err := dec.Skip(); err != nil {
					yield(FieldSet{}, &ParseError{Element: start.Name.Local, Err: err})
					return
				}
				continue
			}

			var item Item
			if err := dec.DecodeElement(&item, &start); err != nil {
				yield(FieldSet{}, &ParseError{Element: "item", Err: err})
				return
			}
			fs, err := n.extractor.Extract(item)
			if err != nil {
				yield(FieldSet{}, err)
				return
			}
			if !yield(fs, nil) {
				return
			}
		}
	}
}

// rootError explains an unexpected document root, surfacing the API's own
// message when the root is <error> or <errors>.
func rootError(dec *xml.Decoder, start xml.StartElement) error {
	name := start.Name.Local
	if name == "error" || name == "errors" {
		var doc apiError
		if err := dec.DecodeElement(&doc, &start); err == nil {
			if msg := doc.text(); msg != "" {
				return &ParseError{Element: name, Err: fmt.Errorf("api error: %s", msg)}
			}
		}
	}
	return &ParseError{Element: name, Err: fmt.Errorf("unexpected root element, want <items>")}
}
