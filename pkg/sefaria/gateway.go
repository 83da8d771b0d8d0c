package sefaria

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/chavruta/chavruta/pkg/config"
	"github.com/chavruta/chavruta/pkg/logger"
	"github.com/chavruta/chavruta/pkg/match"
)

// relatedCategories are the category names GetRelated accepts in its include
// set.
var relatedCategories = map[string]struct{}{
	"links":       {},
	"topics":      {},
	"sheets":      {},
	"webpages":    {},
	"manuscripts": {},
	"media":       {},
}

// Gateway is the caching, retrying front to the reference API. All state it
// shares across turns lives in the Cache handle passed at construction; the
// gateway itself holds no per-turn state and is safe for concurrent use.
type Gateway struct {
	cfg     config.LibraryConfig
	client  *client
	cache   *Cache
	thinner *Thinner
}

// New constructs a gateway around an existing cache handle. A nil cache is a
// programming error, not a runtime condition.
func New(cfg config.LibraryConfig, cache *Cache) *Gateway {
	if cache == nil {
		panic("sefaria: gateway constructed without a cache")
	}
	return &Gateway{
		cfg: cfg,
		client: &client{
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			http:    &http.Client{Timeout: cfg.RequestTimeout},
			limiter: rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst),
			policy: RetryPolicy{
				MaxAttempts: cfg.MaxRetries,
				BaseDelay:   config.RetryBaseDelay,
			},
		},
		cache:   cache,
		thinner: NewThinner(cfg.MaxBytes),
	}
}

// refPath encodes a reference for the URL path, using the library's
// spaces-to-underscores convention.
func refPath(ref string) string {
	return url.PathEscape(strings.ReplaceAll(strings.TrimSpace(ref), " ", "_"))
}

// cached runs the lookup-fetch-thin-store cycle shared by every operation.
// The mutex inside Cache covers only map mutation; two concurrent misses for
// the same key may both fetch, and the second write wins.
func (g *Gateway) cached(op, key string, fetch func() (ThinPayload, error)) (ThinPayload, error) {
	if hit, ok := g.cache.Get(key); ok {
		logger.DebugCF("gateway", "Cache hit", map[string]any{"op": op, "key": key})
		return hit, nil
	}

	payload, err := fetch()
	if err != nil {
		return nil, err
	}
	if g.thinner.TooBig(payload) {
		return nil, oversizedErr(op)
	}
	g.cache.Put(key, payload)
	return payload, nil
}

// GetText fetches a reference's text, thinned to the first version's lines.
// The upstream's version=all form is rejected locally: it multiplies the
// payload by the number of extant versions.
func (g *Gateway) GetText(ctx context.Context, ref, version string) (*TextSegment, error) {
	const op = "get_text"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}
	if version == "all" {
		return nil, invalidErr(op, `version "all" is not allowed; request one version at a time`)
	}

	params := url.Values{"context": {"0"}, "commentary": {"0"}}
	if version != "" {
		params.Set("ven", version)
	}
	path := "/texts/" + refPath(ref)

	payload, err := g.cached(op, CacheKey(path, params), func() (ThinPayload, error) {
		raw, err := g.client.get(ctx, path, params)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		seg, err := g.thinner.ThinText(raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return seg, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*TextSegment), nil
}

// GetLinks fetches cross-references for a reference, capped at 50 tuples.
func (g *Gateway) GetLinks(ctx context.Context, ref string) (*LinkList, error) {
	const op = "get_links"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}

	params := url.Values{"with_text": {"0"}}
	path := "/links/" + refPath(ref)

	payload, err := g.cached(op, CacheKey(path, params), func() (ThinPayload, error) {
		raw, err := g.client.get(ctx, path, params)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		links, err := g.thinner.ThinLinks(ref, raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return links, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*LinkList), nil
}

// Search runs a full-text search, thinned to refs plus a few snippets.
func (g *Gateway) Search(ctx context.Context, query string, filters []string, size int) (*SearchHits, error) {
	const op = "search_texts"
	if strings.TrimSpace(query) == "" {
		return nil, invalidErr(op, "query is required")
	}
	if size <= 0 || size > 50 {
		size = maxSearchHits
	}

	sortedFilters := append([]string(nil), filters...)
	sort.Strings(sortedFilters)

	keyParams := url.Values{
		"q":    {query},
		"size": {strconv.Itoa(size)},
	}
	if len(sortedFilters) > 0 {
		keyParams.Set("filters", strings.Join(sortedFilters, ","))
	}

	payload, err := g.cached(op, CacheKey("/search-wrapper", keyParams), func() (ThinPayload, error) {
		body := map[string]any{
			"query": query,
			"type":  "text",
			"size":  size,
		}
		if len(sortedFilters) > 0 {
			body["filters"] = sortedFilters
		}
		raw, err := g.client.post(ctx, "/search-wrapper", body)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		hits, err := g.thinner.ThinSearch(query, raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*SearchHits), nil
}

// GetRelated fetches the related-content bundle for a reference, limited to
// the requested categories.
func (g *Gateway) GetRelated(ctx context.Context, ref string, include []string) (*RelatedBundle, error) {
	const op = "get_related"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}
	if len(include) == 0 {
		return nil, invalidErr(op, "include must name at least one category")
	}

	includeSet := make(map[string]bool, len(include))
	for _, cat := range include {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if _, ok := relatedCategories[cat]; !ok {
			return nil, invalidErr(op, fmt.Sprintf("unknown category %q", cat))
		}
		includeSet[cat] = true
	}

	sortedInclude := make([]string, 0, len(includeSet))
	for cat := range includeSet {
		sortedInclude = append(sortedInclude, cat)
	}
	sort.Strings(sortedInclude)

	path := "/related/" + refPath(ref)
	keyParams := url.Values{"include": {strings.Join(sortedInclude, ",")}}

	payload, err := g.cached(op, CacheKey(path, keyParams), func() (ThinPayload, error) {
		raw, err := g.client.get(ctx, path, nil)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		bundle, err := g.thinner.ThinRelated(ref, includeSet, raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*RelatedBundle), nil
}

// GetTopics fetches topic links for a reference.
func (g *Gateway) GetTopics(ctx context.Context, ref string) (*TopicList, error) {
	const op = "get_topics"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}

	path := "/ref-topic-links/" + refPath(ref)

	payload, err := g.cached(op, CacheKey(path, nil), func() (ThinPayload, error) {
		raw, err := g.client.get(ctx, path, nil)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		topics, err := g.thinner.ThinTopics(ref, raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return topics, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*TopicList), nil
}

// FindRefs extracts canonical citations from free text.
func (g *Gateway) FindRefs(ctx context.Context, text string) (*RefList, error) {
	const op = "find_refs"
	if strings.TrimSpace(text) == "" {
		return nil, invalidErr(op, "text is required")
	}

	// Free text can be arbitrarily long; key on its digest.
	digest := fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
	key := CacheKey("/find-refs", url.Values{"digest": {digest}})

	payload, err := g.cached(op, key, func() (ThinPayload, error) {
		body := map[string]any{
			"text": map[string]string{"title": "", "body": text},
		}
		raw, err := g.client.post(ctx, "/find-refs", body)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		refs, err := g.thinner.ThinRefs(raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*RefList), nil
}

// ListCommentators lists the commentators writing on a reference. When name
// is non-empty it is fuzzily resolved against the list; an unconfident match
// yields suggestions instead.
func (g *Gateway) ListCommentators(ctx context.Context, ref, name string) (*CommentatorList, error) {
	const op = "list_commentators"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}

	path := "/links/" + refPath(ref)
	keyParams := url.Values{"commentators": {"1"}}

	payload, err := g.cached(op, CacheKey(path, keyParams), func() (ThinPayload, error) {
		raw, err := g.client.get(ctx, path, url.Values{"with_text": {"0"}})
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		list, err := buildCommentatorList(ref, raw)
		if err != nil {
			return nil, upstreamErr(op, fmt.Errorf("parse response: %w", err))
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	list := payload.(*CommentatorList)
	if strings.TrimSpace(name) == "" {
		return list, nil
	}
	return resolveCommentator(list, name), nil
}

func buildCommentatorList(ref string, raw []byte) (*CommentatorList, error) {
	links, err := parseRawLinks(raw)
	if err != nil {
		return nil, err
	}

	type agg struct {
		en, he string
		refs   int
	}
	byName := make(map[string]*agg)
	var order []string
	for _, rl := range links {
		if rl.Category != "Commentary" {
			continue
		}
		en := rl.CollectiveTitle.En
		if en == "" {
			continue
		}
		a, ok := byName[en]
		if !ok {
			a = &agg{en: en, he: rl.CollectiveTitle.He}
			byName[en] = a
			order = append(order, en)
		}
		a.refs++
	}
	sort.Strings(order)

	out := &CommentatorList{Ref: ref, Commentators: make([]CommentatorEntry, 0, len(order))}
	for _, en := range order {
		a := byName[en]
		out.Commentators = append(out.Commentators, CommentatorEntry{Name: a.en, HeName: a.he, Refs: a.refs})
	}
	return out, nil
}

// resolveCommentator returns a copy of list annotated with the resolution of
// a user-typed name. The cached list itself is never mutated.
func resolveCommentator(list *CommentatorList, name string) *CommentatorList {
	out := &CommentatorList{Ref: list.Ref, Commentators: list.Commentators}

	candidates := make([]match.Candidate, 0, len(list.Commentators))
	for _, entry := range list.Commentators {
		names := []match.Name{{Text: entry.Name, Lang: "en"}}
		if entry.HeName != "" {
			names = append(names, match.Name{Text: entry.HeName, Lang: "he"})
		}
		candidates = append(candidates, match.Candidate{ID: entry.Name, Names: names})
	}

	best, top3 := match.Best(name, candidates)
	if best != nil {
		for i := range list.Commentators {
			if list.Commentators[i].Name == best.ID {
				resolved := list.Commentators[i]
				out.Resolved = &resolved
				break
			}
		}
		return out
	}

	for _, s := range top3 {
		out.Suggestions = append(out.Suggestions, s.Candidate.ID)
	}
	return out
}

// GetBilingualSegment assembles the Hebrew text and one translation,
// preferring the configured language and falling back to the second when the
// first has no text for the reference.
func (g *Gateway) GetBilingualSegment(ctx context.Context, ref string) (*BilingualSegment, error) {
	const op = "get_bilingual_segment"
	if strings.TrimSpace(ref) == "" {
		return nil, invalidErr(op, "ref is required")
	}

	path := "/texts/" + refPath(ref)
	keyParams := url.Values{
		"bilingual": {"1"},
		"pref":      {g.cfg.PreferredLang},
		"fb":        {g.cfg.FallbackLang},
	}

	payload, err := g.cached(op, CacheKey(path, keyParams), func() (ThinPayload, error) {
		fetch := func(lang string) (*rawText, error) {
			params := url.Values{"context": {"0"}, "commentary": {"0"}, "lang": {lang}}
			raw, err := g.client.get(ctx, path, params)
			if err != nil {
				return nil, err
			}
			var rt rawText
			if err := unmarshalRawText(raw, &rt); err != nil {
				return nil, fmt.Errorf("parse response: %w", err)
			}
			return &rt, nil
		}

		rt, err := fetch(g.cfg.PreferredLang)
		if err != nil {
			return nil, upstreamErr(op, err)
		}

		seg := &BilingualSegment{
			Ref:   rt.Ref,
			HeRef: rt.HeRef,
			He:    clampLines(rt.He, maxTextLines),
		}

		if len(rt.Text) > 0 {
			seg.Translation = clampLines(rt.Text, maxTextLines)
			seg.TranslationLang = g.cfg.PreferredLang
			return seg, nil
		}

		fb, err := fetch(g.cfg.FallbackLang)
		if err != nil {
			return nil, upstreamErr(op, err)
		}
		if len(fb.Text) > 0 {
			seg.Translation = clampLines(fb.Text, maxTextLines)
			seg.TranslationLang = g.cfg.FallbackLang
			return seg, nil
		}

		seg.Note = "no translation available"
		return seg, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(*BilingualSegment), nil
}

func clampLines(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}
