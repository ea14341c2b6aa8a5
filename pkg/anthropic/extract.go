package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON sends a page's text content plus a schema-derived instruction
// and decodes the model's reply as JSON into out. It is the tiered fallback
// used by the extraction agent when selector-based extraction fails or the
// page type maps to "unstructured".
func ExtractJSON(ctx context.Context, c Client, model, systemPrompt, pageText string, maxTokens int64, out any) (TokenUsage, error) {
	resp, err := c.CreateMessage(ctx, MessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    []SystemBlock{{Text: systemPrompt}},
		Messages:  []Message{{Role: "user", Content: pageText}},
	})
	if err != nil {
		return TokenUsage{}, eris.Wrap(err, "anthropic: extract")
	}

	text := concatText(resp.Content)
	if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
		return resp.Usage, eris.Wrap(err, "anthropic: decode extraction response")
	}
	return resp.Usage, nil
}

func concatText(blocks []ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// stripCodeFence removes a leading/trailing ```json fence some models wrap
// structured replies in despite being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
