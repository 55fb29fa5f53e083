package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn as supplied by the caller.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either plain text or an ordered list of segments.
type Content struct {
	text     string
	segments []Segment
	rich     bool
}

// Text creates plain text content.
func Text(s string) Content { return Content{text: s} }

// Segments creates segmented content preserving the given order.
func Segments(segs ...Segment) Content {
	return Content{segments: append([]Segment(nil), segs...), rich: true}
}

// IsText reports whether the content is a plain string.
func (c Content) IsText() bool { return !c.rich }

// String returns the plain text value (empty for segmented content).
func (c Content) String() string { return c.text }

// Parts returns a copy of the segments (nil for plain text content).
func (c Content) Parts() []Segment {
	if !c.rich {
		return nil
	}
	return append([]Segment(nil), c.segments...)
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireSegment struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireSource `json:"source,omitempty"`
	Title  string      `json:"title,omitempty"`
}

// UnmarshalJSON accepts a JSON string or an array of typed segments. Only the
// known fields of each segment are retained; unknown segment types are skipped.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	}

	var items []wireSegment
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("content must be a string or an array of segments: %w", err)
	}

	segs := make([]Segment, 0, len(items))
	for _, it := range items {
		if seg, ok := it.segment(); ok {
			segs = append(segs, seg)
		}
	}
	*c = Content{segments: segs, rich: true}
	return nil
}

func (w wireSegment) segment() (Segment, bool) {
	switch w.Type {
	case "text":
		return TextSegment{Text: w.Text}, true
	case "image":
		if w.Source == nil {
			return nil, false
		}
		return ImageSegment{Source: ImageSource{
			Type:      w.Source.Type,
			MediaType: w.Source.MediaType,
			Data:      w.Source.Data,
			URL:       w.Source.URL,
		}}, true
	case "document":
		if w.Source == nil {
			return nil, false
		}
		return DocumentSegment{
			Source: DocumentSource{
				Type:      w.Source.Type,
				MediaType: w.Source.MediaType,
				Data:      w.Source.Data,
				URL:       w.Source.URL,
			},
			Title: w.Title,
		}, true
	default:
		return nil, false
	}
}

// MarshalJSON writes the storage form: a string or an array of typed segments.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.rich {
		return json.Marshal(c.text)
	}

	items := make([]wireSegment, 0, len(c.segments))
	for _, s := range c.segments {
		switch seg := s.(type) {
		case TextSegment:
			items = append(items, wireSegment{Type: "text", Text: seg.Text})
		case ImageSegment:
			items = append(items, wireSegment{Type: "image", Source: &wireSource{
				Type: seg.Source.Type, MediaType: seg.Source.MediaType, Data: seg.Source.Data, URL: seg.Source.URL,
			}})
		case DocumentSegment:
			items = append(items, wireSegment{Type: "document", Title: seg.Title, Source: &wireSource{
				Type: seg.Source.Type, MediaType: seg.Source.MediaType, Data: seg.Source.Data, URL: seg.Source.URL,
			}})
		}
	}
	return json.Marshal(items)
}
