package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chavruta/chavruta/pkg/logger"
)

// ToolCall is one tool invocation as the detector sees it: the name plus the
// raw arguments the LLM supplied.
type ToolCall struct {
	Name string
	Args map[string]any
}

// CycleDetector watches the sequence of tool-call batches within a turn and
// flags repetition loops: the same batch issued over and over, or a short
// alternating pattern replaying itself. It observes calls, not outcomes;
// a batch that failed and a batch that succeeded count the same.
type CycleDetector struct {
	mu              sync.Mutex
	history         []string
	historySize     int
	repeatThreshold int
}

// NewCycleDetector creates a detector with a sliding window of historySize
// batch signatures. repeatThreshold consecutive identical signatures trip it.
func NewCycleDetector(historySize, repeatThreshold int) *CycleDetector {
	return &CycleDetector{
		historySize:     historySize,
		repeatThreshold: repeatThreshold,
	}
}

// Observe records one batch of tool calls issued by the model.
func (d *CycleDetector) Observe(batch []ToolCall) {
	sig := batchSignature(batch)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, sig)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
}

// ShouldBreak reports whether the observed sequence has degenerated into a
// loop. Two triggers:
//
//   - the last repeatThreshold batches are identical, or
//   - the window is full and its latest half exactly replays the half before
//     it, for a period longer than one batch.
//
// Plain alternation like A,B,A,B does not trip the period check on its own;
// a period-1 repeat is covered by the consecutive rule, and a period-2
// alternation can be legitimate pagination or compare-two-refs work.
func (d *CycleDetector) ShouldBreak() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.history)
	if n < d.repeatThreshold {
		return false
	}

	identical := true
	last := d.history[n-1]
	for i := n - d.repeatThreshold; i < n; i++ {
		if d.history[i] != last {
			identical = false
			break
		}
	}
	if identical {
		logger.WarnCF("cycle", "Repetition loop detected",
			map[string]any{"signature": last, "repeats": d.repeatThreshold})
		return true
	}

	if n < d.historySize {
		return false
	}

	half := d.historySize / 2
	if half < 3 {
		return false
	}
	for i := 0; i < half; i++ {
		if d.history[n-half+i] != d.history[n-2*half+i] {
			return false
		}
	}
	// Reject the degenerate case where the repeated half is itself a pure
	// two-signature alternation.
	if half%2 == 0 && isAlternation(d.history[n-half:]) {
		return false
	}
	logger.WarnCF("cycle", "Periodic loop detected",
		map[string]any{"period": half})
	return true
}

// Reset clears the history. Call at the start of each conversational turn.
func (d *CycleDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// Observed returns how many batches the detector has in its window.
func (d *CycleDetector) Observed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

func isAlternation(window []string) bool {
	if len(window) < 2 || window[0] == window[1] {
		return false
	}
	for i := 2; i < len(window); i++ {
		if window[i] != window[i-2] {
			return false
		}
	}
	return true
}

// batchSignature canonicalizes a batch: each call reduces to a short
// signature keyed on the arguments that define "the same request", and the
// batch is the sorted join. Order within a batch does not matter.
func batchSignature(batch []ToolCall) string {
	sigs := make([]string, 0, len(batch))
	for _, call := range batch {
		sigs = append(sigs, callSignature(call))
	}
	sort.Strings(sigs)
	return strings.Join(sigs, "|")
}

func callSignature(call ToolCall) string {
	switch call.Name {
	case "get_text", "get_related", "get_topics", "list_commentators", "get_bilingual_segment":
		return fmt.Sprintf("%s(%s)", call.Name, stringArg(call.Args, "ref"))
	case "get_links":
		cats := stringSliceArg(call.Args, "categories")
		sort.Strings(cats)
		if len(cats) > 3 {
			cats = cats[:3]
		}
		if len(cats) == 0 {
			return fmt.Sprintf("%s(%s)", call.Name, stringArg(call.Args, "ref"))
		}
		return fmt.Sprintf("%s(%s,%s)", call.Name, stringArg(call.Args, "ref"), strings.Join(cats, ","))
	case "search_texts":
		return fmt.Sprintf("%s(%s)", call.Name, truncateArg(stringArg(call.Args, "query"), 20))
	case "find_refs":
		return fmt.Sprintf("%s(%s)", call.Name, truncateArg(stringArg(call.Args, "text"), 20))
	default:
		return call.Name
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func stringSliceArg(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	var out []string
	switch v := args[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func truncateArg(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
