package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chavruta/chavruta/pkg/sefaria"
)

// envelope is the uniform response shape every gateway tool returns to the
// LLM. Errors carry a _source stage marker so the model can tell a network
// failure from a deliberate refusal.
type envelope struct {
	OK     bool   `json:"ok"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Source string `json:"_source,omitempty"`
}

func okResult(data any) *ToolResult {
	out, err := json.Marshal(envelope{OK: true, Data: data})
	if err != nil {
		return errResult(fmt.Errorf("encode response: %w", err))
	}
	return NewToolResult(string(out))
}

func errResult(err error) *ToolResult {
	source := "network"
	var gerr *sefaria.GatewayError
	if errors.As(err, &gerr) {
		source = gerr.Source()
	}
	out, merr := json.Marshal(envelope{OK: false, Error: err.Error(), Source: source})
	if merr != nil {
		out = []byte(`{"ok":false,"error":"internal encoding failure","_source":"network"}`)
	}
	result := NewToolResult(string(out))
	result.IsError = true
	return result.WithError(err)
}

func refParam(args map[string]any) string {
	return stringArg(args, "ref")
}

// GetTextTool fetches one segment or range of a canonical text.
type GetTextTool struct {
	gateway *sefaria.Gateway
}

func NewGetTextTool(gateway *sefaria.Gateway) *GetTextTool {
	return &GetTextTool{gateway: gateway}
}

func (t *GetTextTool) Name() string {
	return "get_text"
}

func (t *GetTextTool) Description() string {
	return "Fetch the text of a canonical reference (e.g. 'Genesis 1:1' or 'Berakhot 2a'). Returns the reference, its Hebrew form, and the text lines of one version."
}

func (t *GetTextTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference to fetch",
			},
			"version": map[string]any{
				"type":        "string",
				"description": "Optional version title; omit for the default version",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *GetTextTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	seg, err := t.gateway.GetText(ctx, refParam(args), stringArg(args, "version"))
	if err != nil {
		return errResult(err)
	}
	return okResult(seg)
}

// GetLinksTool lists cross-references for a reference.
type GetLinksTool struct {
	gateway *sefaria.Gateway
}

func NewGetLinksTool(gateway *sefaria.Gateway) *GetLinksTool {
	return &GetLinksTool{gateway: gateway}
}

func (t *GetLinksTool) Name() string {
	return "get_links"
}

func (t *GetLinksTool) Description() string {
	return "List cross-references (links) for a canonical reference: which other texts cite or comment on it."
}

func (t *GetLinksTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference whose links to fetch",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *GetLinksTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	links, err := t.gateway.GetLinks(ctx, refParam(args))
	if err != nil {
		return errResult(err)
	}
	return okResult(links)
}

// SearchTool runs a full-text search over the library.
type SearchTool struct {
	gateway *sefaria.Gateway
}

func NewSearchTool(gateway *sefaria.Gateway) *SearchTool {
	return &SearchTool{gateway: gateway}
}

func (t *SearchTool) Name() string {
	return "search_texts"
}

func (t *SearchTool) Description() string {
	return "Full-text search across the library. Returns matching references with short snippets."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"filters": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional category path filters",
			},
			"size": map[string]any{
				"type":        "integer",
				"description": "Maximum hits to return (default 10, max 50)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	size := 0
	if v, ok := args["size"].(float64); ok {
		size = int(v)
	}
	hits, err := t.gateway.Search(ctx, stringArg(args, "query"), stringSliceArg(args, "filters"), size)
	if err != nil {
		return errResult(err)
	}
	return okResult(hits)
}

// GetRelatedTool fetches the related-content bundle for a reference.
type GetRelatedTool struct {
	gateway *sefaria.Gateway
}

func NewGetRelatedTool(gateway *sefaria.Gateway) *GetRelatedTool {
	return &GetRelatedTool{gateway: gateway}
}

func (t *GetRelatedTool) Name() string {
	return "get_related"
}

func (t *GetRelatedTool) Description() string {
	return "Fetch related content for a reference, limited to the requested categories: links, topics, sheets, webpages, manuscripts, media."
}

func (t *GetRelatedTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference",
			},
			"include": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Categories to include; at least one is required",
			},
		},
		"required": []string{"ref", "include"},
	}
}

func (t *GetRelatedTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	bundle, err := t.gateway.GetRelated(ctx, refParam(args), stringSliceArg(args, "include"))
	if err != nil {
		return errResult(err)
	}
	return okResult(bundle)
}

// GetTopicsTool lists the topics tagged on a reference.
type GetTopicsTool struct {
	gateway *sefaria.Gateway
}

func NewGetTopicsTool(gateway *sefaria.Gateway) *GetTopicsTool {
	return &GetTopicsTool{gateway: gateway}
}

func (t *GetTopicsTool) Name() string {
	return "get_topics"
}

func (t *GetTopicsTool) Description() string {
	return "List the topics associated with a canonical reference."
}

func (t *GetTopicsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *GetTopicsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	topics, err := t.gateway.GetTopics(ctx, refParam(args))
	if err != nil {
		return errResult(err)
	}
	return okResult(topics)
}

// FindRefsTool extracts canonical citations from free text.
type FindRefsTool struct {
	gateway *sefaria.Gateway
}

func NewFindRefsTool(gateway *sefaria.Gateway) *FindRefsTool {
	return &FindRefsTool{gateway: gateway}
}

func (t *FindRefsTool) Name() string {
	return "find_refs"
}

func (t *FindRefsTool) Description() string {
	return "Detect canonical citations inside free-form text and return them as normalized references."
}

func (t *FindRefsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Free text to scan for citations",
			},
		},
		"required": []string{"text"},
	}
}

func (t *FindRefsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	refs, err := t.gateway.FindRefs(ctx, stringArg(args, "text"))
	if err != nil {
		return errResult(err)
	}
	return okResult(refs)
}

// ListCommentatorsTool lists commentators on a reference and optionally
// resolves a user-typed name against them.
type ListCommentatorsTool struct {
	gateway *sefaria.Gateway
}

func NewListCommentatorsTool(gateway *sefaria.Gateway) *ListCommentatorsTool {
	return &ListCommentatorsTool{gateway: gateway}
}

func (t *ListCommentatorsTool) Name() string {
	return "list_commentators"
}

func (t *ListCommentatorsTool) Description() string {
	return "List the commentators who wrote on a reference. When 'name' is given, resolve it fuzzily against the list; misspellings, transliterations, and Cyrillic spellings are accepted."
}

func (t *ListCommentatorsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Optional commentator name to resolve",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *ListCommentatorsTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	list, err := t.gateway.ListCommentators(ctx, refParam(args), stringArg(args, "name"))
	if err != nil {
		return errResult(err)
	}
	return okResult(list)
}

// GetBilingualSegmentTool pairs the Hebrew text with one translation.
type GetBilingualSegmentTool struct {
	gateway *sefaria.Gateway
}

func NewGetBilingualSegmentTool(gateway *sefaria.Gateway) *GetBilingualSegmentTool {
	return &GetBilingualSegmentTool{gateway: gateway}
}

func (t *GetBilingualSegmentTool) Name() string {
	return "get_bilingual_segment"
}

func (t *GetBilingualSegmentTool) Description() string {
	return "Fetch a reference's Hebrew text paired with a translation in the preferred language, falling back to the secondary language when no preferred translation exists."
}

func (t *GetBilingualSegmentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{
				"type":        "string",
				"description": "Canonical reference",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *GetBilingualSegmentTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	seg, err := t.gateway.GetBilingualSegment(ctx, refParam(args))
	if err != nil {
		return errResult(err)
	}
	return okResult(seg)
}

// RegisterAll registers the full gateway tool set on a registry.
func RegisterAll(registry *Registry, gateway *sefaria.Gateway) {
	registry.Register(NewGetTextTool(gateway))
	registry.Register(NewGetLinksTool(gateway))
	registry.Register(NewSearchTool(gateway))
	registry.Register(NewGetRelatedTool(gateway))
	registry.Register(NewGetTopicsTool(gateway))
	registry.Register(NewFindRefsTool(gateway))
	registry.Register(NewListCommentatorsTool(gateway))
	registry.Register(NewGetBilingualSegmentTool(gateway))
}
