package tools

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/chavruta/chavruta/pkg/budget"
	"github.com/chavruta/chavruta/pkg/config"
	"github.com/chavruta/chavruta/pkg/logger"
)

// Session is the per-turn state bundle: a fresh byte ledger and a fresh cycle
// detector under a new turn ID. The gateway cache deliberately lives outside
// the session and survives across turns.
type Session struct {
	ID       string
	Ledger   *budget.Ledger
	Detector *CycleDetector
}

// NewSession starts a new conversational turn.
func NewSession(cfg config.BudgetConfig, cycle config.CycleConfig) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Ledger:   budget.NewLedger(cfg.CeilingBytes),
		Detector: NewCycleDetector(cycle.HistorySize, cycle.RepeatThreshold),
	}
}

// BudgetHook meters tool results against the session ledger. Rejected
// results are replaced in place with the fixed budget-exceeded envelope, so
// the LLM sees the refusal instead of the data.
type BudgetHook struct {
	session *Session
}

func NewBudgetHook(session *Session) *BudgetHook {
	return &BudgetHook{session: session}
}

// Bind points the hook at a new session. The registry and its gateway cache
// live across turns; only the session rolls over.
func (h *BudgetHook) Bind(session *Session) {
	h.session = session
}

func (h *BudgetHook) BeforeExecute(ctx context.Context, toolName string, args map[string]any) error {
	return nil
}

func (h *BudgetHook) AfterExecute(ctx context.Context, toolName string, args map[string]any, result *ToolResult) {
	if result == nil || result.ForLLM == "" {
		return
	}

	admission := h.session.Ledger.Admit(toolName, []byte(result.ForLLM))
	if admission.OK {
		result.ForLLM = string(admission.Payload)
		return
	}

	logger.InfoCF("budget", "Result replaced by budget rejection",
		map[string]any{
			"turn": h.session.ID,
			"tool": toolName,
			"used": admission.UsedBytes,
		})
	result.ForLLM = string(budgetRejection())
	result.IsError = true
}

// budgetRejection stamps the rejection payload with its stage marker.
func budgetRejection() []byte {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(budget.RejectionPayload), &envelope); err != nil {
		return []byte(budget.RejectionPayload)
	}
	envelope["_source"] = "budget"
	out, err := json.Marshal(envelope)
	if err != nil {
		return []byte(budget.RejectionPayload)
	}
	return out
}
