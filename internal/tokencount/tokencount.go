// Package tokencount estimates request token counts for the router's
// long-context heuristic.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/toolify/toolify/internal/model"
)

const encodingName = "cl100k_base"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
	errI error
)

func encoding() (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, errI = tiktoken.GetEncoding(encodingName)
	})
	return enc, errI
}

// Count returns the estimated token count of a single string, or 0 if the
// encoder failed to initialize.
func Count(text string) int {
	tke, err := encoding()
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

// CountRequest estimates the total input token count of a canonical
// request: system prompt, every message's text content, and tool
// declarations.
func CountRequest(req *model.Request) int {
	total := Count(req.SystemPrompt)
	for _, m := range req.Messages {
		for _, p := range m.Content {
			switch p.Type {
			case model.PartText:
				total += Count(p.Text)
			case model.PartToolResult:
				total += Count(p.ToolResultText)
			}
		}
	}
	for _, t := range req.Tools {
		total += Count(t.Name) + Count(t.Description) + Count(string(t.Parameters))
	}
	return total
}
