package mediation

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/ohler55/ojg/oj"
)

// Builder turns a raw payload into the document stored on a MessageContext.
type Builder interface {
	Build(payload []byte) (any, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(payload []byte) (any, error)

// Build calls f.
func (f BuilderFunc) Build(payload []byte) (any, error) { return f(payload) }

// JSONBuilder parses JSON into generic maps and slices.
var JSONBuilder = BuilderFunc(func(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	v, err := oj.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return v, nil
})

// XMLBuilder parses XML into an etree document.
var XMLBuilder = BuilderFunc(func(payload []byte) (any, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("invalid XML payload: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("invalid XML payload: no root element")
	}
	return doc, nil
})

// TextBuilder keeps the payload as a UTF-8 string.
var TextBuilder = BuilderFunc(func(payload []byte) (any, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("text payload is not valid UTF-8")
	}
	return string(payload), nil
})

// BinaryBuilder keeps a copy of the raw bytes.
var BinaryBuilder = BuilderFunc(func(payload []byte) (any, error) {
	return append([]byte(nil), payload...), nil
})

// DefaultBuilder wraps the payload in a <text> element so that unknown
// content types still produce a document.
var DefaultBuilder = BuilderFunc(func(payload []byte) (any, error) {
	doc := etree.NewDocument()
	el := doc.CreateElement("text")
	if utf8.Valid(payload) {
		el.SetText(string(payload))
	} else {
		el.CreateAttr("encoding", "binary")
	}
	return doc, nil
})

// Builders selects a Builder by media type.
type Builders struct {
	byType   map[string]Builder
	fallback Builder
}

// NewBuilders returns the standard builder set.
func NewBuilders() *Builders {
	return &Builders{
		byType: map[string]Builder{
			"application/json":         JSONBuilder,
			"text/json":                JSONBuilder,
			"application/xml":          XMLBuilder,
			"text/xml":                 XMLBuilder,
			"application/soap+xml":     XMLBuilder,
			"text/plain":               TextBuilder,
			"application/octet-stream": BinaryBuilder,
		},
		fallback: DefaultBuilder,
	}
}

// Register adds or replaces the builder for a media type.
func (b *Builders) Register(mediaType string, builder Builder) {
	b.byType[strings.ToLower(mediaType)] = builder
}

// For returns the builder for contentType. Parameters such as charset are
// ignored; structured suffixes (+json, +xml) map to their base builders.
func (b *Builders) For(contentType string) Builder {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return b.fallback
	}
	if builder, ok := b.byType[mt]; ok {
		return builder
	}
	switch {
	case strings.HasSuffix(mt, "+json"):
		return JSONBuilder
	case strings.HasSuffix(mt, "+xml"):
		return XMLBuilder
	}
	return b.fallback
}
