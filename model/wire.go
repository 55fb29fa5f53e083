package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Block types used on the wire.
const (
	BlockText              = "text"
	BlockImage             = "image"
	BlockDocument          = "document"
	BlockThinking          = "thinking"
	BlockRedactedThinking  = "redacted_thinking"
	BlockToolUse           = "tool_use"
	BlockServerToolUse     = "server_tool_use"
	BlockToolResult        = "tool_result"
	BlockWebSearchResult   = "web_search_tool_result"
	BlockWebFetchResult    = "web_fetch_tool_result"
	BlockCodeExecResult    = "code_execution_tool_result"
	BlockSearchResultBlock = "search_result"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one provider-bound conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or a list of blocks. A nil Blocks slice
// marshals as a string.
type Content struct {
	Text   string
	Blocks []Block
}

// TextContent creates string content.
func TextContent(s string) Content { return Content{Text: s} }

// BlockContent creates block content.
func BlockContent(blocks ...Block) Content { return Content{Blocks: blocks} }

// IsText reports whether the content marshals as a plain string.
func (c Content) IsText() bool { return c.Blocks == nil }

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		c.Blocks = nil
		return json.Unmarshal(data, &c.Text)
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	if blocks == nil {
		blocks = []Block{}
	}
	*c = Content{Blocks: blocks}
	return nil
}

// Clone returns a copy whose block slice can be modified independently.
func (c Content) Clone() Content {
	if c.Blocks == nil {
		return Content{Text: c.Text}
	}
	blocks := make([]Block, len(c.Blocks))
	for i, b := range c.Blocks {
		blocks[i] = b.Clone()
	}
	return Content{Blocks: blocks}
}

// Source is the payload locator of image and document blocks.
type Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// CacheControl marks a prompt-caching breakpoint.
type CacheControl struct {
	Type string `json:"type"`
}

// Ephemeral is the only cache control type in use.
func Ephemeral() *CacheControl { return &CacheControl{Type: "ephemeral"} }

// CitationsConfig enables citations on a document block.
type CitationsConfig struct {
	Enabled bool `json:"enabled"`
}

// Block is one content block in provider wire form. Only the fields relevant
// to Type are populated.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`
	// image, document
	Source *Source `json:"source,omitempty"`
	Title  string  `json:"title,omitempty"`
	// document: *CitationsConfig; text: []json.RawMessage
	Citations any `json:"citations,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	// redacted_thinking
	Data string `json:"data,omitempty"`

	// tool_use, server_tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result and provider result blocks
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// Clone returns a copy that shares no mutable pointers with b.
func (b Block) Clone() Block {
	nb := b
	if b.Source != nil {
		s := *b.Source
		nb.Source = &s
	}
	if b.CacheControl != nil {
		cc := *b.CacheControl
		nb.CacheControl = &cc
	}
	if b.Input != nil {
		nb.Input = append(json.RawMessage(nil), b.Input...)
	}
	if b.Content != nil {
		nb.Content = append(json.RawMessage(nil), b.Content...)
	}
	return nb
}

// TextBlock creates a text block.
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// ToolResultBlock creates a tool_result block carrying a text result.
func ToolResultBlock(toolUseID, text string, isError bool) Block {
	raw, _ := json.Marshal(text)
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: raw, IsError: isError}
}
