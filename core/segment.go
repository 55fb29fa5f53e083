package core

// Segment represents one typed unit of message content. Concrete segment
// types implement the unexported isSegment marker enabling a closed set.
type Segment interface{ isSegment() }

// Source kinds shared by image and document segments.
const (
	SourceBase64 = "base64"
	SourceText   = "text"
	SourceURL    = "url"
)

// TextSegment is a plain text content segment.
type TextSegment struct {
	Text string
}

func (TextSegment) isSegment() {}

// ImageSource locates image bytes either inline (base64) or remotely (url).
type ImageSource struct {
	Type      string // base64 | url
	MediaType string // e.g. image/png; required for base64
	Data      string // base64 payload
	URL       string
}

// ImageSegment is an image attachment.
type ImageSegment struct {
	Source ImageSource
}

func (ImageSegment) isSegment() {}

// DocumentSource locates document content inline (base64 or text) or remotely (url).
type DocumentSource struct {
	Type      string // base64 | text | url
	MediaType string // application/pdf, text/plain, ...
	Data      string
	URL       string
}

// DocumentSegment is a document attachment with an optional title.
type DocumentSegment struct {
	Source DocumentSource
	Title  string
}

func (DocumentSegment) isSegment() {}

// Valid reports whether exactly one payload is set for the image.
func (s ImageSegment) Valid() bool {
	switch s.Source.Type {
	case SourceBase64:
		return s.Source.Data != "" && s.Source.URL == ""
	case SourceURL:
		return s.Source.URL != "" && s.Source.Data == ""
	default:
		return false
	}
}

// Valid reports whether exactly one payload is set for the document.
func (s DocumentSegment) Valid() bool {
	switch s.Source.Type {
	case SourceBase64, SourceText:
		return s.Source.Data != "" && s.Source.URL == ""
	case SourceURL:
		return s.Source.URL != "" && s.Source.Data == ""
	default:
		return false
	}
}

// IsPDF reports whether the document carries a PDF payload.
func (s DocumentSegment) IsPDF() bool {
	return s.Source.MediaType == "application/pdf"
}

// IsPlainText reports whether the document carries a plain-text payload.
func (s DocumentSegment) IsPlainText() bool {
	return s.Source.Type == SourceText || s.Source.MediaType == "text/plain"
}
