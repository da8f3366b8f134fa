// Package queue implements the Worker Queue: a prioritised
// FIFO task queue, backed by PersistedQueueTask rows, with bounded
// concurrency and dedup-on-submit.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

// Priority constants; lower is higher priority.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 10
)

// AnalysisTaskPayload is the payload carried by a domain.TaskKindAnalysis task.
type AnalysisTaskPayload struct {
	ExpertInstanceID       int64                  `json:"expert_instance_id"`
	Symbol                 string                 `json:"symbol"`
	UseCase                domain.AnalysisUseCase `json:"use_case"`
	BypassBalanceCheck     bool                   `json:"bypass_balance_check"`
	BypassTransactionCheck bool                   `json:"bypass_transaction_check"`
}

// InstrumentExpansionTaskPayload is the payload carried by a
// domain.TaskKindExpansion task.
type InstrumentExpansionTaskPayload struct {
	ExpertInstanceID int64                  `json:"expert_instance_id"`
	ExpansionType    domain.ExpansionType   `json:"expansion_type"`
	UseCase          domain.AnalysisUseCase `json:"use_case"`
}

// DedupKey namespaces a task so that no two tasks with the same
// (kind, expert_instance_id, symbol, use_case) may be PENDING or RUNNING at
// once. Special expansion symbols are namespaced under the expansion kind so
// they never collide with a real ticker spelled the same way.
func DedupKey(kind domain.QueueTaskKind, expertInstanceID int64, symbolOrExpansion string, useCase domain.AnalysisUseCase) string {
	return fmt.Sprintf("%s:%d:%s:%s", kind, expertInstanceID, symbolOrExpansion, useCase)
}

// SubmitRequest is what a caller hands to Manager.Submit.
type SubmitRequest struct {
	Kind     domain.QueueTaskKind
	Payload  interface{} // marshaled to JSON; AnalysisTaskPayload or InstrumentExpansionTaskPayload
	Priority int
	DedupKey string
	BatchID  string
}

// DecodeAnalysisPayload unmarshals a task's payload as an AnalysisTaskPayload.
func DecodeAnalysisPayload(t domain.PersistedQueueTask) (AnalysisTaskPayload, error) {
	var p AnalysisTaskPayload
	err := json.Unmarshal(t.Payload, &p)
	return p, err
}

// DecodeExpansionPayload unmarshals a task's payload as an
// InstrumentExpansionTaskPayload.
func DecodeExpansionPayload(t domain.PersistedQueueTask) (InstrumentExpansionTaskPayload, error) {
	var p InstrumentExpansionTaskPayload
	err := json.Unmarshal(t.Payload, &p)
	return p, err
}
