package sefaria

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Per-endpoint reduction caps. The upstream API returns far more than an LLM
// turn can afford; each endpoint kind has its own idea of "enough".
const (
	maxTextLines    = 40
	maxDafLines     = 8
	maxLinks        = 50
	maxSearchHits   = 10
	maxHitSnippets  = 3
	maxRelatedLinks = 20
	maxSheets       = 8
	maxWebpages     = 6
	maxTopics       = 10
	maxManuscripts  = 6
	maxMedia        = 6
)

// dafPattern matches page-level Talmud references ("Berakhot 2a"). A daf
// packs an order of magnitude more text per logical unit than a verse, so it
// gets a tighter line clamp.
var dafPattern = regexp.MustCompile(`^[A-Za-z' ]+ \d{1,3}[ab]$`)

// ThinPayload is the tagged union of all thinned response variants.
type ThinPayload interface {
	Kind() string
}

// TextSegment is the thinned text-by-reference response.
type TextSegment struct {
	Ref     string   `json:"ref"`
	HeRef   string   `json:"heRef,omitempty"`
	Lines   []string `json:"lines"`
	Version string   `json:"version,omitempty"`
	Next    string   `json:"next,omitempty"`
	Prev    string   `json:"prev,omitempty"`
	Note    string   `json:"note,omitempty"`
}

func (TextSegment) Kind() string { return "text" }

// Link is one cross-reference tuple.
type Link struct {
	Category    string `json:"category"`
	Commentator string `json:"commentator,omitempty"`
	Ref         string `json:"ref"`
	AnchorRef   string `json:"anchorRef,omitempty"`
	SourceRef   string `json:"sourceRef,omitempty"`
}

// LinkList is the thinned cross-reference list for one reference.
type LinkList struct {
	Ref       string `json:"ref"`
	Links     []Link `json:"links"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (LinkList) Kind() string { return "links" }

// SearchHit keeps only what the agent needs to decide whether to fetch.
type SearchHit struct {
	Ref      string   `json:"ref"`
	Snippets []string `json:"snippets,omitempty"`
}

// SearchHits is the thinned full-text search response.
type SearchHits struct {
	Query string      `json:"query"`
	Total int         `json:"total"`
	Hits  []SearchHit `json:"hits"`
}

func (SearchHits) Kind() string { return "search" }

// Topic is one topic tag attached to a reference.
type Topic struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
	Count int    `json:"count,omitempty"`
}

// TopicList is the thinned topic-links response.
type TopicList struct {
	Ref    string  `json:"ref"`
	Topics []Topic `json:"topics"`
}

func (TopicList) Kind() string { return "topics" }

// RelatedSheet / RelatedWebpage / RelatedManuscript / RelatedMedia carry the
// minimal identifying fields of their categories.
type RelatedSheet struct {
	ID    int    `json:"id"`
	Title string `json:"title,omitempty"`
	Owner string `json:"owner,omitempty"`
}

type RelatedWebpage struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

type RelatedManuscript struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
}

type RelatedMedia struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// RelatedBundle is the thinned related-content response. Categories the
// caller did not request are absent, not empty, so worst-case size stays
// predictable.
type RelatedBundle struct {
	Ref         string              `json:"ref"`
	Links       []Link              `json:"links,omitempty"`
	Topics      []Topic             `json:"topics,omitempty"`
	Sheets      []RelatedSheet      `json:"sheets,omitempty"`
	Webpages    []RelatedWebpage    `json:"webpages,omitempty"`
	Manuscripts []RelatedManuscript `json:"manuscripts,omitempty"`
	Media       []RelatedMedia      `json:"media,omitempty"`
}

func (RelatedBundle) Kind() string { return "related" }

// BilingualSegment pairs the Hebrew text with one translation.
type BilingualSegment struct {
	Ref             string   `json:"ref"`
	HeRef           string   `json:"heRef,omitempty"`
	He              []string `json:"he"`
	Translation     []string `json:"translation,omitempty"`
	TranslationLang string   `json:"translationLang,omitempty"`
	Note            string   `json:"note,omitempty"`
}

func (BilingualSegment) Kind() string { return "bilingual" }

// RefList is the thinned free-text reference-extraction response.
type RefList struct {
	Refs []string `json:"refs"`
}

func (RefList) Kind() string { return "refs" }

// CommentatorEntry is one commentator known to write on a reference.
type CommentatorEntry struct {
	Name   string `json:"name"`
	HeName string `json:"heName,omitempty"`
	Refs   int    `json:"refs"`
}

// CommentatorList lists commentators on a reference, optionally with the
// result of resolving a user-typed name against them.
type CommentatorList struct {
	Ref          string             `json:"ref"`
	Commentators []CommentatorEntry `json:"commentators"`
	Resolved     *CommentatorEntry  `json:"resolved,omitempty"`
	Suggestions  []string           `json:"suggestions,omitempty"`
}

func (CommentatorList) Kind() string { return "commentators" }

// Thinner reduces raw upstream payloads to their Thin variants and enforces
// the serialized-size ceiling.
type Thinner struct {
	maxBytes int
}

func NewThinner(maxBytes int) *Thinner {
	return &Thinner{maxBytes: maxBytes}
}

// TooBig reports whether v serializes to more than the configured ceiling.
// Unserializable values count as too big; they could never be returned anyway.
func (t *Thinner) TooBig(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return true
	}
	return len(data) > t.maxBytes
}

// textLines accepts the upstream's flexible text field: a single string, an
// array of strings, or an array of arrays (chapter of verses of segments).
type textLines []string

func (tl *textLines) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "" {
			*tl = textLines{s}
		}
		return nil
	}

	var flat []string
	if err := json.Unmarshal(data, &flat); err == nil {
		*tl = nonEmpty(flat)
		return nil
	}

	var nested [][]string
	if err := json.Unmarshal(data, &nested); err == nil {
		var out []string
		for _, seg := range nested {
			out = append(out, nonEmpty(seg)...)
		}
		*tl = out
		return nil
	}

	// Unknown shape: treat as no text rather than failing the whole payload.
	*tl = nil
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

type rawText struct {
	Ref          string    `json:"ref"`
	HeRef        string    `json:"heRef"`
	Text         textLines `json:"text"`
	He           textLines `json:"he"`
	VersionTitle string    `json:"versionTitle"`
	Next         string    `json:"next"`
	Prev         string    `json:"prev"`
}

// ThinText reduces a text-by-reference response: first version only, line
// clamp, navigation pointers.
func (t *Thinner) ThinText(raw []byte) (*TextSegment, error) {
	var rt rawText
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, err
	}

	lines := []string(rt.Text)
	if len(lines) == 0 {
		lines = []string(rt.He)
	}

	seg := &TextSegment{
		Ref:     rt.Ref,
		HeRef:   rt.HeRef,
		Version: rt.VersionTitle,
		Next:    rt.Next,
		Prev:    rt.Prev,
	}

	clamp := maxTextLines
	if dafPattern.MatchString(strings.TrimSpace(rt.Ref)) {
		clamp = maxDafLines
	}
	if len(lines) > clamp {
		lines = lines[:clamp]
		seg.Note = "clamped for length; request the next segment for more"
	}
	seg.Lines = lines
	return seg, nil
}

type rawLink struct {
	Category        string `json:"category"`
	Ref             string `json:"ref"`
	AnchorRef       string `json:"anchorRef"`
	SourceRef       string `json:"sourceRef"`
	CollectiveTitle struct {
		En string `json:"en"`
		He string `json:"he"`
	} `json:"collectiveTitle"`
}

func parseRawLinks(raw []byte) ([]rawLink, error) {
	var rls []rawLink
	if err := json.Unmarshal(raw, &rls); err != nil {
		return nil, err
	}
	return rls, nil
}

func unmarshalRawText(raw []byte, rt *rawText) error {
	return json.Unmarshal(raw, rt)
}

func (l rawLink) thin() Link {
	return Link{
		Category:    l.Category,
		Commentator: l.CollectiveTitle.En,
		Ref:         l.Ref,
		AnchorRef:   l.AnchorRef,
		SourceRef:   l.SourceRef,
	}
}

// ThinLinks reduces a cross-reference response to capped tuples.
func (t *Thinner) ThinLinks(ref string, raw []byte) (*LinkList, error) {
	var rls []rawLink
	if err := json.Unmarshal(raw, &rls); err != nil {
		return nil, err
	}

	out := &LinkList{Ref: ref, Links: make([]Link, 0, len(rls))}
	for _, rl := range rls {
		out.Links = append(out.Links, rl.thin())
	}
	if len(out.Links) > maxLinks {
		out.Links = out.Links[:maxLinks]
		out.Truncated = true
	}
	return out, nil
}

type rawSearch struct {
	Hits struct {
		Total json.RawMessage `json:"total"` // int in ES6, {value:int} in ES7
		Hits  []struct {
			Source struct {
				Ref string `json:"ref"`
			} `json:"_source"`
			Highlight struct {
				Exact  []string `json:"exact"`
				Naive  []string `json:"naive_lemmatizer"`
			} `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

func parseTotal(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var obj struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return 0
}

// ThinSearch drops raw-script bodies and highlight machinery, keeping refs
// and a few snippets per hit.
func (t *Thinner) ThinSearch(query string, raw []byte) (*SearchHits, error) {
	var rs rawSearch
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, err
	}

	out := &SearchHits{Query: query, Total: parseTotal(rs.Hits.Total)}
	for _, hit := range rs.Hits.Hits {
		if len(out.Hits) >= maxSearchHits {
			break
		}
		snippets := hit.Highlight.Exact
		if len(snippets) == 0 {
			snippets = hit.Highlight.Naive
		}
		if len(snippets) > maxHitSnippets {
			snippets = snippets[:maxHitSnippets]
		}
		out.Hits = append(out.Hits, SearchHit{Ref: hit.Source.Ref, Snippets: snippets})
	}
	return out, nil
}

type rawRelated struct {
	Links  []rawLink `json:"links"`
	Topics []struct {
		Slug  string `json:"topic"`
		Title struct {
			En string `json:"en"`
		} `json:"title"`
		LinkCount int `json:"linkCount"`
	} `json:"topics"`
	Sheets []struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
		Owner string `json:"ownerName"`
	} `json:"sheets"`
	Webpages []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"webpages"`
	Manuscripts []struct {
		Slug  string `json:"manuscript_slug"`
		Title string `json:"title"`
	} `json:"manuscripts"`
	Media []struct {
		URL         string `json:"media_url"`
		Description string `json:"description"`
	} `json:"media"`
}

// ThinRelated keeps only the requested categories, each under its own cap.
func (t *Thinner) ThinRelated(ref string, include map[string]bool, raw []byte) (*RelatedBundle, error) {
	var rr rawRelated
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, err
	}

	out := &RelatedBundle{Ref: ref}

	if include["links"] {
		for _, rl := range rr.Links {
			if len(out.Links) >= maxRelatedLinks {
				break
			}
			out.Links = append(out.Links, rl.thin())
		}
	}
	if include["topics"] {
		for _, rt := range rr.Topics {
			if len(out.Topics) >= maxTopics {
				break
			}
			out.Topics = append(out.Topics, Topic{Slug: rt.Slug, Title: rt.Title.En, Count: rt.LinkCount})
		}
	}
	if include["sheets"] {
		for _, sh := range rr.Sheets {
			if len(out.Sheets) >= maxSheets {
				break
			}
			out.Sheets = append(out.Sheets, RelatedSheet{ID: sh.ID, Title: sh.Title, Owner: sh.Owner})
		}
	}
	if include["webpages"] {
		for _, wp := range rr.Webpages {
			if len(out.Webpages) >= maxWebpages {
				break
			}
			out.Webpages = append(out.Webpages, RelatedWebpage{Title: wp.Title, URL: wp.URL})
		}
	}
	if include["manuscripts"] {
		for _, ms := range rr.Manuscripts {
			if len(out.Manuscripts) >= maxManuscripts {
				break
			}
			out.Manuscripts = append(out.Manuscripts, RelatedManuscript{Slug: ms.Slug, Title: ms.Title})
		}
	}
	if include["media"] {
		for _, m := range rr.Media {
			if len(out.Media) >= maxMedia {
				break
			}
			out.Media = append(out.Media, RelatedMedia{URL: m.URL, Description: m.Description})
		}
	}

	return out, nil
}

// ThinTopics reduces a ref-topic-links response.
func (t *Thinner) ThinTopics(ref string, raw []byte) (*TopicList, error) {
	var rts []struct {
		Slug  string `json:"topic"`
		Title struct {
			En string `json:"en"`
		} `json:"title"`
		LinkCount int `json:"linkCount"`
	}
	if err := json.Unmarshal(raw, &rts); err != nil {
		return nil, err
	}

	out := &TopicList{Ref: ref, Topics: make([]Topic, 0, len(rts))}
	for _, rt := range rts {
		if len(out.Topics) >= maxTopics {
			break
		}
		out.Topics = append(out.Topics, Topic{Slug: rt.Slug, Title: rt.Title.En, Count: rt.LinkCount})
	}
	return out, nil
}

// ThinRefs extracts the citation strings found by the linker.
func (t *Thinner) ThinRefs(raw []byte) (*RefList, error) {
	// The linker nests results by input section; only the refs matter here.
	var rr struct {
		Title struct {
			Results []struct {
				Refs []string `json:"refs"`
			} `json:"results"`
		} `json:"title"`
		Body struct {
			Results []struct {
				Refs []string `json:"refs"`
			} `json:"results"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := &RefList{Refs: []string{}}
	collect := func(results []struct {
		Refs []string `json:"refs"`
	}) {
		for _, res := range results {
			for _, ref := range res.Refs {
				if _, dup := seen[ref]; dup {
					continue
				}
				seen[ref] = struct{}{}
				out.Refs = append(out.Refs, ref)
			}
		}
	}
	collect(rr.Title.Results)
	collect(rr.Body.Results)
	sort.Strings(out.Refs)
	return out, nil
}
