package stream

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/model"
)

type summary struct {
	text    string
	isError bool
	data    any
}

// SearchResult is the UI payload of one provider web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	PageAge string `json:"page_age,omitempty"`
}

// FetchResult is the UI payload of a provider web fetch.
type FetchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	RetrievedAt string `json:"retrieved_at,omitempty"`
}

func summarize(b model.Block) summary {
	content := gjson.ParseBytes(b.Content)

	if code := content.Get("error_code"); code.Exists() {
		return summary{
			text:    "Error: " + code.String(),
			isError: true,
			data:    map[string]string{"error_code": code.String()},
		}
	}

	switch b.Type {
	case model.BlockWebSearchResult:
		results := []SearchResult{}
		content.ForEach(func(_, r gjson.Result) bool {
			if r.Get("type").String() == "web_search_result" {
				results = append(results, SearchResult{
					Title:   r.Get("title").String(),
					URL:     r.Get("url").String(),
					PageAge: r.Get("page_age").String(),
				})
			}
			return true
		})
		return summary{text: fmt.Sprintf("Found %d results", len(results)), data: results}

	default:
		res := FetchResult{
			URL:         content.Get("url").String(),
			Title:       content.Get("content.title").String(),
			RetrievedAt: content.Get("retrieved_at").String(),
		}
		return summary{text: "Fetched content from: " + res.URL, data: res}
	}
}
