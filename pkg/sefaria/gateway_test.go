package sefaria

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chavruta/chavruta/pkg/config"
)

func testGateway(t *testing.T, handler http.Handler) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.LibraryConfig{
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		PreferredLang:  "ru",
		FallbackLang:   "en",
		CacheTTL:       time.Hour,
		CacheCapacity:  100,
		MaxBytes:       120_000,
		UpstreamRPS:    1000,
		UpstreamBurst:  1000,
	}
	return New(cfg, NewCache(cfg.CacheCapacity, cfg.CacheTTL)), server
}

func textResponse(ref string, lines int) string {
	out := make([]string, lines)
	for i := range out {
		out[i] = fmt.Sprintf("line %d", i)
	}
	encoded, _ := json.Marshal(out)
	return fmt.Sprintf(`{"ref":%q,"heRef":"","text":%s,"versionTitle":"Test Version"}`, ref, encoded)
}

func TestGetTextCachesSecondCall(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, textResponse("Genesis 1:1", 1))
	}))

	seg, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	assert.Equal(t, "Genesis 1:1", seg.Ref)
	assert.Equal(t, "Test Version", seg.Version)

	seg2, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	assert.Equal(t, seg, seg2)
	assert.Equal(t, int32(1), calls.Load(), "second call must not hit the network")
}

func TestGetTextDifferentVersionsAreDifferentEntries(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, textResponse("Genesis 1:1", 1))
	}))

	_, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	_, err = gw.GetText(context.Background(), "Genesis 1:1", "Some Version")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, textResponse("Genesis 1:1", 1))
	}))

	seg, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	assert.Equal(t, "Genesis 1:1", seg.Ref)
	assert.Equal(t, int32(3), calls.Load(), "500 twice, then success on the third attempt")
}

func TestGetTextFailsAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))

	_, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUpstream, gerr.Kind)
	assert.Equal(t, "network", gerr.Source())
}

func TestGetTextRetriesAttemptTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Hang past the per-attempt timeout.
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, textResponse("Genesis 1:1", 1))
	}))
	t.Cleanup(server.Close)

	cfg := config.LibraryConfig{
		BaseURL:        server.URL,
		RequestTimeout: 50 * time.Millisecond,
		MaxRetries:     3,
		PreferredLang:  "ru",
		FallbackLang:   "en",
		CacheTTL:       time.Hour,
		CacheCapacity:  100,
		MaxBytes:       120_000,
		UpstreamRPS:    1000,
		UpstreamBurst:  1000,
	}
	gw := New(cfg, NewCache(cfg.CacheCapacity, cfg.CacheTTL))

	_, err := gw.GetText(context.Background(), "Genesis 1:1", "")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "a hung upstream must burn the full retry budget")

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUpstream, gerr.Kind)
}

func TestGetTextRejectsVersionAll(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard must reject before any network call")
	}))

	_, err := gw.GetText(context.Background(), "Genesis 1:1", "all")
	require.Error(t, err)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindInvalid, gerr.Kind)
}

func TestGetTextRejectsEmptyRef(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard must reject before any network call")
	}))

	_, err := gw.GetText(context.Background(), "  ", "")
	require.Error(t, err)
}

func TestGetTextOversizedAfterThinning(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 40 surviving lines of 10 KB each still exceed the ceiling.
		lines := make([]string, 40)
		for i := range lines {
			lines[i] = strings.Repeat("x", 10_000)
		}
		encoded, _ := json.Marshal(lines)
		fmt.Fprintf(w, `{"ref":"Genesis 1","text":%s}`, encoded)
	}))

	_, err := gw.GetText(context.Background(), "Genesis 1", "")
	require.Error(t, err)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindOversized, gerr.Kind)
	assert.Equal(t, "thinning", gerr.Source())
}

func TestGetLinksTruncation(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raws []string
		for i := 0; i < 70; i++ {
			raws = append(raws, fmt.Sprintf(`{"category":"Midrash","ref":"Midrash %d"}`, i))
		}
		fmt.Fprint(w, "["+strings.Join(raws, ",")+"]")
	}))

	links, err := gw.GetLinks(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	assert.Len(t, links.Links, 50)
	assert.True(t, links.Truncated)
}

func TestSearchPostsAndThins(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search-wrapper", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "creation", body["query"])

		fmt.Fprint(w, `{"hits":{"total":{"value":3},"hits":[{"_source":{"ref":"Genesis 1:1"},"highlight":{"exact":["In the beginning"]}}]}}`)
	}))

	hits, err := gw.Search(context.Background(), "creation", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, hits.Total)
	require.Len(t, hits.Hits, 1)
	assert.Equal(t, "Genesis 1:1", hits.Hits[0].Ref)
}

func TestSearchFilterOrderSharesCacheEntry(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"hits":{"total":0,"hits":[]}}`)
	}))

	_, err := gw.Search(context.Background(), "q", []string{"Talmud", "Midrash"}, 10)
	require.NoError(t, err)
	_, err = gw.Search(context.Background(), "q", []string{"Midrash", "Talmud"}, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRelatedOnlyIncludedCategories(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"links":[{"category":"Commentary","ref":"Rashi on Genesis 1:1:1"}],
			"topics":[{"topic":"creation","title":{"en":"Creation"},"linkCount":2}],
			"sheets":[{"id":9,"title":"A sheet"}]
		}`)
	}))

	bundle, err := gw.GetRelated(context.Background(), "Genesis 1:1", []string{"links"})
	require.NoError(t, err)
	assert.Len(t, bundle.Links, 1)

	out, err := json.Marshal(bundle)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "topics")
	assert.NotContains(t, string(out), "sheets")
}

func TestGetRelatedRejectsUnknownCategory(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard must reject before any network call")
	}))

	_, err := gw.GetRelated(context.Background(), "Genesis 1:1", []string{"gossip"})
	require.Error(t, err)

	_, err = gw.GetRelated(context.Background(), "Genesis 1:1", nil)
	require.Error(t, err)
}

func TestGetTopics(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/ref-topic-links/")
		fmt.Fprint(w, `[{"topic":"creation","title":{"en":"Creation"},"linkCount":12}]`)
	}))

	topics, err := gw.GetTopics(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	require.Len(t, topics.Topics, 1)
	assert.Equal(t, "creation", topics.Topics[0].Slug)
}

func TestFindRefs(t *testing.T) {
	var calls atomic.Int32
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"title":{"results":[]},"body":{"results":[{"refs":["Genesis 1:1","Berakhot 2a"]}]}}`)
	}))

	refs, err := gw.FindRefs(context.Background(), "As it says in Genesis 1:1 and Berakhot 2a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Berakhot 2a", "Genesis 1:1"}, refs.Refs)

	// Identical text hits the digest-keyed cache.
	_, err = gw.FindRefs(context.Background(), "As it says in Genesis 1:1 and Berakhot 2a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFindRefsRejectsEmptyText(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guard must reject before any network call")
	}))

	_, err := gw.FindRefs(context.Background(), "   ")
	require.Error(t, err)
}

func commentaryLinksResponse() string {
	var raws []string
	for i := 0; i < 3; i++ {
		raws = append(raws, fmt.Sprintf(`{"category":"Commentary","ref":"Rashi on Genesis 1:1:%d","collectiveTitle":{"en":"Rashi","he":"רש\"י"}}`, i))
	}
	raws = append(raws,
		`{"category":"Commentary","ref":"Abarbanel on Torah, Genesis 1:1","collectiveTitle":{"en":"Abravanel","he":"אברבנאל"}}`,
		`{"category":"Targum","ref":"Onkelos Genesis 1:1","collectiveTitle":{"en":"Onkelos"}}`)
	return "[" + strings.Join(raws, ",") + "]"
}

func TestListCommentators(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentaryLinksResponse())
	}))

	list, err := gw.ListCommentators(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	require.Len(t, list.Commentators, 2, "non-commentary links are excluded")
	assert.Equal(t, "Abravanel", list.Commentators[0].Name)
	assert.Equal(t, "Rashi", list.Commentators[1].Name)
	assert.Equal(t, 3, list.Commentators[1].Refs)
	assert.Nil(t, list.Resolved)
}

func TestListCommentatorsResolvesName(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentaryLinksResponse())
	}))

	list, err := gw.ListCommentators(context.Background(), "Genesis 1:1", "абрабанель")
	require.NoError(t, err)
	require.NotNil(t, list.Resolved)
	assert.Equal(t, "Abravanel", list.Resolved.Name)

	// The cached list is shared; a later call without a name sees no
	// leftover resolution.
	list, err = gw.ListCommentators(context.Background(), "Genesis 1:1", "")
	require.NoError(t, err)
	assert.Nil(t, list.Resolved)
}

func TestListCommentatorsSuggestionsOnNoMatch(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentaryLinksResponse())
	}))

	list, err := gw.ListCommentators(context.Background(), "Genesis 1:1", "zzzz qqqq")
	require.NoError(t, err)
	assert.Nil(t, list.Resolved)
	assert.NotEmpty(t, list.Suggestions)
}

func TestGetBilingualSegmentPreferred(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ru", r.URL.Query().Get("lang"))
		fmt.Fprint(w, `{"ref":"Genesis 1:1","heRef":"בראשית א׳:א׳","text":["В начале"],"he":["בראשית"]}`)
	}))

	seg, err := gw.GetBilingualSegment(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"בראשית"}, seg.He)
	assert.Equal(t, []string{"В начале"}, seg.Translation)
	assert.Equal(t, "ru", seg.TranslationLang)
	assert.Empty(t, seg.Note)
}

func TestGetBilingualSegmentFallback(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lang") == "ru" {
			fmt.Fprint(w, `{"ref":"Genesis 1:1","text":[],"he":["בראשית"]}`)
			return
		}
		fmt.Fprint(w, `{"ref":"Genesis 1:1","text":["In the beginning"],"he":["בראשית"]}`)
	}))

	seg, err := gw.GetBilingualSegment(context.Background(), "Genesis 1:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"In the beginning"}, seg.Translation)
	assert.Equal(t, "en", seg.TranslationLang)
}

func TestGetBilingualSegmentNoTranslation(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ref":"Obscure 1:1","text":[],"he":["עברית"]}`)
	}))

	seg, err := gw.GetBilingualSegment(context.Background(), "Obscure 1:1")
	require.NoError(t, err)
	assert.Empty(t, seg.Translation)
	assert.Equal(t, "no translation available", seg.Note)
}

func TestRefPathEncoding(t *testing.T) {
	gw, _ := testGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/texts/Shulchan_Arukh,_Orach_Chayim_1:1", r.URL.Path)
		fmt.Fprint(w, textResponse("Shulchan Arukh, Orach Chayim 1:1", 1))
	}))

	_, err := gw.GetText(context.Background(), "Shulchan Arukh, Orach Chayim 1:1", "")
	require.NoError(t, err)
}
