package domain

import (
	"encoding/json"
	"time"
)

// AccountDefinition is one connection to a broker plus its settings.
type AccountDefinition struct {
	CreatedAt   time.Time `json:"created_at"`
	Provider    string    `json:"provider"` // selects the concrete broker adapter
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ID          int64     `json:"id"`
}

// ExpertInstance is a configured, enabled binding of an expert class to an account.
type ExpertInstance struct {
	CreatedAt            time.Time `json:"created_at"`
	ExpertClassTag       string    `json:"expert_class_tag"`
	Alias                string    `json:"alias,omitempty"`
	RulesetID            int64     `json:"ruleset_id"`
	ID                   int64     `json:"id"`
	AccountID            int64     `json:"account_id"`
	VirtualEquityPercent float64   `json:"virtual_equity_percent"`
	Enabled              bool      `json:"enabled"`
}

// SettingValueType tags which field of Setting.Value is populated.
type SettingValueType string

const (
	SettingString     SettingValueType = "string"
	SettingFloat      SettingValueType = "float"
	SettingBool       SettingValueType = "bool"
	SettingStructured SettingValueType = "json"
)

// SettingOwnerKind tags whether a Setting is bound to an account or an expert instance.
type SettingOwnerKind string

const (
	OwnerAccount SettingOwnerKind = "account"
	OwnerExpert  SettingOwnerKind = "expert"
	OwnerApp     SettingOwnerKind = "app" // application-wide setting (no owner row)
)

// Setting is a polymorphic key/value row attached to an account, an expert
// instance, or the application as a whole.
type Setting struct {
	Key       string           `json:"key"`
	ValueType SettingValueType `json:"value_type"`
	RawValue  string           `json:"raw_value"` // string/float/bool encoded as text; JSON text for structured
	OwnerKind SettingOwnerKind `json:"owner_kind"`
	OwnerID   int64            `json:"owner_id,omitempty"`
}

// AsFloat parses RawValue as a float64.
func (s Setting) AsFloat(def float64) float64 {
	var f float64
	if err := json.Unmarshal([]byte(s.RawValue), &f); err != nil {
		return def
	}
	return f
}

// AsBool parses RawValue as a bool.
func (s Setting) AsBool(def bool) bool {
	var b bool
	if err := json.Unmarshal([]byte(s.RawValue), &b); err != nil {
		return def
	}
	return b
}

// AsStructured unmarshals RawValue (JSON) into out.
func (s Setting) AsStructured(out interface{}) error {
	return json.Unmarshal([]byte(s.RawValue), out)
}

// Instrument is a tradeable symbol with free-form categories and labels.
type Instrument struct {
	Symbol     string   `json:"symbol"`
	Kind       string   `json:"kind"` // e.g. "stock"
	Categories []string `json:"categories,omitempty"`
	Labels     []string `json:"labels,omitempty"` // e.g. "auto_added"
	ID         int64    `json:"id"`
}

// HasLabel reports whether the instrument carries the given label.
func (i Instrument) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// MarketAnalysis holds the transient state of one analysis run.
type MarketAnalysis struct {
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Symbol           string                 `json:"symbol"`
	State            map[string]interface{} `json:"state,omitempty"`
	Status           AnalysisStatus         `json:"status"`
	UseCase          AnalysisUseCase        `json:"use_case"`
	ID               int64                  `json:"id"`
	ExpertInstanceID int64                  `json:"expert_instance_id"`
}

// AnalysisOutput is an append-only artefact produced during an analysis run.
type AnalysisOutput struct {
	CreatedAt        time.Time `json:"created_at"`
	Name             string    `json:"name"`
	TypeTag          string    `json:"type_tag"`
	Text             string    `json:"text"`
	ID               int64     `json:"id"`
	MarketAnalysisID int64     `json:"market_analysis_id"`
}

// ExpertRecommendation is an expert's verdict, written at the end of a run.
type ExpertRecommendation struct {
	CreatedAt             time.Time         `json:"created_at"`
	Symbol                string            `json:"symbol"`
	Details               string            `json:"details,omitempty"`
	Action                RecommendedAction `json:"action"`
	RiskLevel             RiskLevel         `json:"risk_level"`
	TimeHorizon           TimeHorizon       `json:"time_horizon"`
	ID                    int64             `json:"id"`
	ExpertInstanceID      int64             `json:"expert_instance_id"`
	MarketAnalysisID      int64             `json:"market_analysis_id"`
	ExpectedProfitPercent float64           `json:"expected_profit_percent"`
	PriceAtIssue          float64           `json:"price_at_issue"`
	Confidence            float64           `json:"confidence"` // 0-100
}

// Transaction is a logical trade: one or more entry orders plus TP/SL/close orders.
type Transaction struct {
	OpenDate         *time.Time        `json:"open_date,omitempty"`
	CloseDate        *time.Time        `json:"close_date,omitempty"`
	Symbol           string            `json:"symbol"`
	CloseReason      string            `json:"close_reason,omitempty"`
	Status           TransactionStatus `json:"status"`
	Side             OrderSide         `json:"side"`
	ID               int64             `json:"id"`
	ExpertInstanceID int64             `json:"expert_instance_id"`
	Quantity         float64           `json:"quantity"`
	OpenPrice        float64           `json:"open_price"`
	ClosePrice       float64           `json:"close_price,omitempty"`
	TakeProfit       *float64          `json:"take_profit,omitempty"`
	StopLoss         *float64          `json:"stop_loss,omitempty"`
}

// OrderAuxData is the auxiliary JSON blob stored on a TradingOrder, used to
// remember TP/SL percent targets and the price they were anchored against.
type OrderAuxData struct {
	TPPercent        *float64 `json:"tp_percent,omitempty"`
	TPReferencePrice *float64 `json:"tp_reference_price,omitempty"`
	SLPercent        *float64 `json:"sl_percent,omitempty"`
	SLReferencePrice *float64 `json:"sl_reference_price,omitempty"`
}

// TradingOrder is one order placed (or waiting to be placed) with a broker.
type TradingOrder struct {
	CreatedAt                 time.Time    `json:"created_at"`
	BrokerOrderID             string       `json:"broker_order_id,omitempty"`
	Comment                   string       `json:"comment"`
	Symbol                    string       `json:"symbol"`
	Type                      OrderType    `json:"type"`
	Status                    OrderStatus  `json:"status"`
	Side                      OrderSide    `json:"side"`
	GoodFor                   GoodFor      `json:"good_for"`
	DependsOrderStatusTrigger OrderStatus  `json:"depends_order_status_trigger,omitempty"`
	Data                      OrderAuxData `json:"data"`
	ID                        int64        `json:"id"`
	AccountID                 int64        `json:"account_id"`
	TransactionID             int64        `json:"transaction_id,omitempty"`
	DependsOnOrder            int64        `json:"depends_on_order,omitempty"`
	Quantity                  float64      `json:"quantity"`
	LimitPrice                float64      `json:"limit_price,omitempty"`
	StopPrice                 float64      `json:"stop_price,omitempty"`
	FilledQuantity            float64      `json:"filled_quantity"`
	OpenPrice                 float64      `json:"open_price,omitempty"` // average fill price
}

// HasDependency reports whether this order depends on a parent order.
func (o TradingOrder) HasDependency() bool { return o.DependsOnOrder != 0 }

// IsEntryOrder reports whether this order is an entry order, i.e. has no
// dependency on a parent order; the order type is not checked.
func (o TradingOrder) IsEntryOrder() bool { return o.DependsOnOrder == 0 }

// Ruleset is an ordered list of event-actions evaluated against a recommendation.
type Ruleset struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Subtype string `json:"subtype"`
	ID      int64  `json:"id"`
}

// Condition is a single trigger predicate within an EventAction's trigger set.
type Condition struct {
	Kind     string      `json:"kind"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`
}

// Action is a structured descriptor the engine emits; translation into concrete
// broker calls is the caller's responsibility.
type Action struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// EventAction is a trigger set (AND of conditions) with an ordered action list.
type EventAction struct {
	Kind               string      `json:"kind"`
	Triggers           []Condition `json:"triggers"`
	Actions            []Action    `json:"actions"`
	ID                 int64       `json:"id"`
	ContinueProcessing bool        `json:"continue_processing"`
}

// RulesetMembership associates an EventAction with a Ruleset at a given order_index.
type RulesetMembership struct {
	RulesetID     int64 `json:"ruleset_id"`
	EventActionID int64 `json:"event_action_id"`
	OrderIndex    int   `json:"order_index"`
}

// PersistedQueueTask is a durable record of a Worker Queue task, so pending
// work survives a process restart.
type PersistedQueueTask struct {
	SubmittedAt time.Time       `json:"submitted_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ID          string          `json:"id"`
	Kind        QueueTaskKind   `json:"kind"`
	Status      QueueTaskStatus `json:"status"`
	BatchID     string          `json:"batch_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	// DedupKey namespaces (kind, expert_instance_id, symbol, use_case) so that
	// special symbols never collide with a real ticker of the same text.
	DedupKey   string `json:"dedup_key,omitempty"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retry_count"`
}

// ActivityLog is an append-only event stream entry.
type ActivityLog struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Severity    ActivitySeverity       `json:"severity"`
	ID          int64                  `json:"id"`
	AccountID   int64                  `json:"account_id,omitempty"`
	ExpertID    int64                  `json:"expert_id,omitempty"`
}

// LLMUsageLog is an append-only provider/model/token-count/cost row.
type LLMUsageLog struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	ID           int64     `json:"id"`
	PromptTokens int64     `json:"prompt_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}
