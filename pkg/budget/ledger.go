// Package budget meters how many bytes of tool output one conversational
// turn may hand to the LLM. The ledger never looks at payload meaning, only
// at serialized size; once the ceiling is hit, every further admission in the
// turn is rejected.
package budget

import (
	"encoding/json"

	"github.com/chavruta/chavruta/pkg/logger"
)

// RejectionPayload is the fixed response substituted for a payload that
// would blow the turn budget.
const RejectionPayload = `{"ok":false,"error":"turn budget exceeded, please narrow the request"}`

// Final compaction caps applied before measuring, for tools whose payloads
// are already thin but list-shaped. This is a second, cheaper pass than the
// gateway's thinning; it only shortens lists, never reshapes.
var compactionCaps = map[string]map[string]int{
	"get_links":    {"links": 30},
	"search_texts": {"hits": 8},
	"get_topics":   {"topics": 10},
}

// Ledger is the per-turn byte counter. Create one per conversational turn
// and drive it from a single goroutine; admissions must be serialized by the
// caller when tool calls fan out.
type Ledger struct {
	used    int
	ceiling int
}

// Admission is the result of offering a payload to the ledger.
type Admission struct {
	OK        bool
	Payload   []byte
	UsedBytes int
}

// NewLedger creates a ledger with the given byte ceiling.
func NewLedger(ceiling int) *Ledger {
	return &Ledger{ceiling: ceiling}
}

// Admit offers a tool's serialized result to the ledger. On success the
// (possibly compacted) payload is returned and the running total advances.
// On rejection the total is untouched and the fixed rejection payload is
// returned; the orchestrator should stop requesting data this turn.
func (l *Ledger) Admit(tool string, payload []byte) Admission {
	payload = compact(tool, payload)
	size := len(payload)

	if l.used+size > l.ceiling {
		logger.WarnCF("budget", "Turn budget exceeded",
			map[string]any{
				"tool":    tool,
				"size":    size,
				"used":    l.used,
				"ceiling": l.ceiling,
			})
		return Admission{OK: false, Payload: []byte(RejectionPayload), UsedBytes: l.used}
	}

	l.used += size
	return Admission{OK: true, Payload: payload, UsedBytes: l.used}
}

// Used returns the bytes admitted so far this turn.
func (l *Ledger) Used() int { return l.used }

// Remaining returns the bytes left under the ceiling.
func (l *Ledger) Remaining() int {
	if l.used >= l.ceiling {
		return 0
	}
	return l.ceiling - l.used
}

// compact trims known list fields inside the envelope's data object for the
// tools registered in compactionCaps. Anything it cannot parse passes
// through untouched; compaction is an optimization, not a gate.
func compact(tool string, payload []byte) []byte {
	caps, ok := compactionCaps[tool]
	if !ok {
		return payload
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return payload
	}
	rawData, ok := envelope["data"]
	if !ok {
		return payload
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &data); err != nil {
		return payload
	}

	changed := false
	for field, limit := range caps {
		rawList, ok := data[field]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(rawList, &list); err != nil {
			continue
		}
		if len(list) <= limit {
			continue
		}
		trimmed, err := json.Marshal(list[:limit])
		if err != nil {
			continue
		}
		data[field] = trimmed
		changed = true
	}
	if !changed {
		return payload
	}

	newData, err := json.Marshal(data)
	if err != nil {
		return payload
	}
	envelope["data"] = newData
	out, err := json.Marshal(envelope)
	if err != nil {
		return payload
	}
	return out
}
