package broker

// Application/expert setting keys consumed by this package.
const (
	// SettingMinTPSLPercent is the app-wide floor for TP/SL distance.
	SettingMinTPSLPercent = "min_tp_sl_percent"
	// DefaultMinTPSLPercent is used when the setting row does not exist yet.
	DefaultMinTPSLPercent = 3.0

	// SettingMaxVirtualEquityPerInstrumentPercent bounds the defence-in-depth
	// position-size cap, declared per ExpertInstance.
	SettingMaxVirtualEquityPerInstrumentPercent = "max_virtual_equity_per_instrument_percent"
)
