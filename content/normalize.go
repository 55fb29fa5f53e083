package content

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// DefaultDocumentTitle names URL documents whose title cannot be derived.
const DefaultDocumentTitle = "Document"

const mediaTypePlainText = "text/plain"

// Normalize converts caller content into provider content. Plain text passes
// through unchanged. Segmented content that yields no blocks becomes an empty
// string rather than an empty list.
func Normalize(c core.Content) model.Content {
	if c.IsText() {
		return model.TextContent(c.String())
	}

	var (
		images []core.ImageSegment
		docs   []core.DocumentSegment
		texts  []core.TextSegment
	)

	for _, seg := range c.Parts() {
		switch s := seg.(type) {
		case core.ImageSegment:
			if s.Valid() {
				images = append(images, s)
			}
		case core.DocumentSegment:
			if s.Valid() {
				docs = append(docs, s)
			}
		case core.TextSegment:
			if s.Text != "" {
				texts = append(texts, s)
			}
		}
	}

	blocks := make([]model.Block, 0, 2*len(images)+2*len(docs)+len(texts))

	for i, img := range images {
		if len(images) > 1 {
			blocks = append(blocks, model.TextBlock(fmt.Sprintf("Image %d:", i+1)))
		}
		blocks = append(blocks, imageBlock(img))
	}

	for i, doc := range docs {
		if len(docs) > 1 {
			blocks = append(blocks, model.TextBlock(fmt.Sprintf("Document %d:", i+1)))
		}
		blocks = append(blocks, documentBlock(doc))
	}

	for _, t := range texts {
		blocks = append(blocks, model.TextBlock(t.Text))
	}

	if len(blocks) == 0 {
		return model.TextContent("")
	}

	return model.BlockContent(blocks...)
}

// NormalizeMessages normalizes every message of a conversation. The input
// slice is not modified.
func NormalizeMessages(msgs []core.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.Message{Role: m.Role, Content: Normalize(m.Content)})
	}
	return out
}

func imageBlock(img core.ImageSegment) model.Block {
	src := &model.Source{Type: img.Source.Type}
	if img.Source.Type == core.SourceURL {
		src.URL = img.Source.URL
	} else {
		src.MediaType = img.Source.MediaType
		src.Data = img.Source.Data
	}
	return model.Block{Type: model.BlockImage, Source: src}
}

func documentBlock(doc core.DocumentSegment) model.Block {
	b := model.Block{Type: model.BlockDocument, Title: doc.Title}

	switch {
	case doc.Source.Type == core.SourceURL:
		b.Source = &model.Source{Type: core.SourceURL, URL: doc.Source.URL}
		if b.Title == "" {
			b.Title = TitleFromURL(doc.Source.URL)
		}
		b.Citations = &model.CitationsConfig{Enabled: true}
		b.CacheControl = model.Ephemeral()
	case doc.IsPDF():
		b.Source = &model.Source{Type: core.SourceBase64, MediaType: doc.Source.MediaType, Data: doc.Source.Data}
		b.Citations = &model.CitationsConfig{Enabled: true}
		b.CacheControl = model.Ephemeral()
	case doc.IsPlainText():
		b.Source = &model.Source{Type: core.SourceText, MediaType: mediaTypePlainText, Data: plainText(doc.Source)}
	default:
		b.Source = &model.Source{Type: doc.Source.Type, MediaType: doc.Source.MediaType, Data: doc.Source.Data}
	}

	return b
}

// plainText returns the literal text of a text document. Base64 payloads that
// fail to decode are passed through as stored.
func plainText(src core.DocumentSource) string {
	if src.Type != core.SourceBase64 {
		return src.Data
	}
	decoded, err := base64.StdEncoding.DecodeString(src.Data)
	if err != nil {
		return src.Data
	}
	return string(decoded)
}

// TitleFromURL derives a document title from the final path component of
// rawURL, percent-decoded. It falls back to DefaultDocumentTitle.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultDocumentTitle
	}

	base := path.Base(strings.TrimRight(u.EscapedPath(), "/"))
	if base == "." || base == "/" || base == "" {
		return DefaultDocumentTitle
	}

	name, err := url.PathUnescape(base)
	if err != nil || strings.TrimSpace(name) == "" {
		return DefaultDocumentTitle
	}

	return name
}
