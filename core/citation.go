package core

import "encoding/json"

// CitationKind names one of the five supported citation shapes.
type CitationKind string

const (
	CitationWebSearchResult   CitationKind = "web_search_result_location"
	CitationSearchResult      CitationKind = "search_result_location"
	CitationCharRange         CitationKind = "char_location"
	CitationPageRange         CitationKind = "page_location"
	CitationContentBlockRange CitationKind = "content_block_location"
)

// Citation points from generated text back to the source backing it.
type Citation interface {
	Kind() CitationKind
	isCitation()
}

// WebSearchResultCitation cites a provider web search hit.
type WebSearchResultCitation struct {
	Type           CitationKind `json:"type"`
	CitedText      string       `json:"cited_text"`
	URL            string       `json:"url"`
	Title          string       `json:"title,omitempty"`
	EncryptedIndex string       `json:"encrypted_index,omitempty"`
}

// SearchResultCitation cites a search_result content block supplied to the model.
type SearchResultCitation struct {
	Type              CitationKind `json:"type"`
	CitedText         string       `json:"cited_text"`
	Source            string       `json:"source"`
	Title             string       `json:"title,omitempty"`
	SearchResultIndex int          `json:"search_result_index"`
	StartBlockIndex   int          `json:"start_block_index"`
	EndBlockIndex     int          `json:"end_block_index"`
}

// CharRangeCitation cites a character range of a plain-text document.
type CharRangeCitation struct {
	Type           CitationKind `json:"type"`
	CitedText      string       `json:"cited_text"`
	DocumentIndex  int          `json:"document_index"`
	DocumentTitle  string       `json:"document_title,omitempty"`
	StartCharIndex int          `json:"start_char_index"`
	EndCharIndex   int          `json:"end_char_index"`
}

// PageRangeCitation cites a page range of a PDF document.
type PageRangeCitation struct {
	Type            CitationKind `json:"type"`
	CitedText       string       `json:"cited_text"`
	DocumentIndex   int          `json:"document_index"`
	DocumentTitle   string       `json:"document_title,omitempty"`
	StartPageNumber int          `json:"start_page_number"`
	EndPageNumber   int          `json:"end_page_number"`
}

// ContentBlockRangeCitation cites a block range of a custom-content document.
type ContentBlockRangeCitation struct {
	Type            CitationKind `json:"type"`
	CitedText       string       `json:"cited_text"`
	DocumentIndex   int          `json:"document_index"`
	DocumentTitle   string       `json:"document_title,omitempty"`
	StartBlockIndex int          `json:"start_block_index"`
	EndBlockIndex   int          `json:"end_block_index"`
}

func (WebSearchResultCitation) Kind() CitationKind   { return CitationWebSearchResult }
func (SearchResultCitation) Kind() CitationKind      { return CitationSearchResult }
func (CharRangeCitation) Kind() CitationKind         { return CitationCharRange }
func (PageRangeCitation) Kind() CitationKind         { return CitationPageRange }
func (ContentBlockRangeCitation) Kind() CitationKind { return CitationContentBlockRange }

func (WebSearchResultCitation) isCitation()   {}
func (SearchResultCitation) isCitation()      {}
func (CharRangeCitation) isCitation()         {}
func (PageRangeCitation) isCitation()         {}
func (ContentBlockRangeCitation) isCitation() {}

// DecodeCitation classifies a raw provider citation by its type tag. Unknown
// tags and malformed payloads report false.
func DecodeCitation(raw []byte) (Citation, bool) {
	var head struct {
		Type CitationKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false
	}

	switch head.Type {
	case CitationWebSearchResult:
		return decodeInto[WebSearchResultCitation](raw)
	case CitationSearchResult:
		return decodeInto[SearchResultCitation](raw)
	case CitationCharRange:
		return decodeInto[CharRangeCitation](raw)
	case CitationPageRange:
		return decodeInto[PageRangeCitation](raw)
	case CitationContentBlockRange:
		return decodeInto[ContentBlockRangeCitation](raw)
	default:
		return nil, false
	}
}

func decodeInto[T Citation](raw []byte) (Citation, bool) {
	var c T
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	return c, true
}
