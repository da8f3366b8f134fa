package domain

import "context"

// AccountInfo is the account-level snapshot returned by GetAccountInfo.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}

// BrokerPosition is one open position as reported by the broker.
type BrokerPosition struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
	CurrentPrice float64
	UnrealizedPL float64
}

// BrokerOrderSnapshot is a point-in-time view of an order at the broker.
type BrokerOrderSnapshot struct {
	BrokerOrderID    string
	Status           OrderStatus
	FilledQuantity   float64
	AverageFillPrice float64
}

// PriceType is which side of the book a quote should reflect.
type PriceType string

const (
	PriceBid PriceType = "bid"
	PriceAsk PriceType = "ask"
	PriceMid PriceType = "mid"
)

// Quote is a price observation for a symbol at a point in time.
type Quote struct {
	Symbol string
	Price  float64
}

// BrokerProvider is the small set of hooks a concrete broker implements; the
// bulk of the Broker Account abstraction's logic lives in internal/broker and
// calls these.
type BrokerProvider interface {
	// SubmitOrderImpl places order at the broker and returns it updated with
	// BrokerOrderID and an initial status.
	SubmitOrderImpl(ctx context.Context, order TradingOrder) (TradingOrder, error)

	// SetOrderTPImpl / SetOrderSLImpl / SetOrderTPSLImpl may be no-ops; only
	// override when the broker supports the operation natively.
	SetOrderTPImpl(ctx context.Context, order TradingOrder, price float64) error
	SetOrderSLImpl(ctx context.Context, order TradingOrder, price float64) error
	SetOrderTPSLImpl(ctx context.Context, order TradingOrder, tp, sl float64) (ok bool, err error)

	// UpdateBrokerTPOrder / UpdateBrokerSLOrder modify a live order in place
	// where the broker supports it; ok=false means the base code should
	// cancel-and-replace instead.
	UpdateBrokerTPOrder(ctx context.Context, order TradingOrder, newPrice float64) (ok bool, err error)
	UpdateBrokerSLOrder(ctx context.Context, order TradingOrder, newPrice float64) (ok bool, err error)

	// ReplaceOrderWithStopLimit combines TP+SL into a single STOP_LIMIT order
	// for brokers that support it; ok=false falls back to separate orders.
	ReplaceOrderWithStopLimit(ctx context.Context, existing TradingOrder, tp, sl float64) (order TradingOrder, ok bool, err error)

	GetInstrumentCurrentPriceImpl(ctx context.Context, symbols []string, priceType PriceType) (map[string]float64, error)
	SymbolsExist(ctx context.Context, symbols []string) (map[string]bool, error)

	CancelOrder(ctx context.Context, brokerOrderID string) error
	ModifyOrder(ctx context.Context, brokerOrderID string, limitPrice, stopPrice *float64) error
	GetOrder(ctx context.Context, brokerOrderID string) (BrokerOrderSnapshot, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetOrders(ctx context.Context, status *OrderStatus) ([]BrokerOrderSnapshot, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetBalance(ctx context.Context) (float64, error)
}

// ExpertProperties are the class-level capability flags an expert declares.
type ExpertProperties struct {
	CanRecommendInstruments    bool
	ShouldExpandInstrumentJobs bool
}

// SettingDefinition documents one entry of an expert's (or account's) settings schema.
type SettingDefinition struct {
	Type        SettingValueType
	Default     interface{}
	Description string
	Tooltip     string
	Required    bool
}

// Expert is the contract a concrete expert implementation satisfies. Concrete
// experts are out of scope; this interface is the one the worker
// executor and job manager consume.
type Expert interface {
	Description() string
	SettingsDefinitions() map[string]SettingDefinition
	Properties() ExpertProperties
	RunAnalysis(ctx context.Context, symbol string, analysis *MarketAnalysis) error
	GetEnabledInstruments(ctx context.Context) ([]string, error)
	GetRecommendedInstruments(ctx context.Context) ([]string, error)
}

// InstrumentSelector is the injected AI instrument selector consulted for
// DYNAMIC instrument expansion.
type InstrumentSelector interface {
	SelectInstruments(ctx context.Context, expertInstanceID int64, prompt, model string, maxInstruments int) ([]string, error)
}

// ExpertRegistry resolves the concrete Expert bound to an ExpertInstance's
// expert_class_tag. Concrete experts are out of scope; the Job
// Manager and Worker Queue executor consume this to stay decoupled from any
// particular expert implementation.
type ExpertRegistry interface {
	Resolve(ctx context.Context, instance ExpertInstance) (Expert, error)
}
