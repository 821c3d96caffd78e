package intent

// Intent categories.
const (
	IntentDiagnostic  = "diagnostic"
	IntentTelemetry   = "telemetry"
	IntentMaintenance = "maintenance"
	IntentNavigation  = "navigation"
	IntentClimate     = "climate"
	IntentMedia       = "media"
	IntentTrip        = "trip"
	IntentComfort     = "comfort"
	IntentTheme       = "theme"
	IntentUnknown     = "unknown"
)

// Action tags executed against vehicle state.
const (
	ActionClearCodes         = "clear_codes"
	ActionShowCodes          = "show_codes"
	ActionTirePressure       = "tire_pressure"
	ActionFuelEconomy        = "fuel_economy"
	ActionMaintenance        = "maintenance_schedule"
	ActionPlanRoute          = "plan_route"
	ActionARNavigation       = "ar_navigation"
	ActionOpenNavigation     = "open_navigation"
	ActionRaisePassengerTemp = "raise_passenger_temp"
	ActionLowerPassengerTemp = "lower_passenger_temp"
	ActionRaiseDriverTemp    = "raise_driver_temp"
	ActionLowerDriverTemp    = "lower_driver_temp"
	ActionPauseMusic         = "pause_music"
	ActionPlayMusic          = "play_music"
	ActionVehicleStatus      = "vehicle_status"
	ActionTripSummary        = "trip_summary"
	ActionMassage            = "massage"
	ActionCarWash            = "car_wash_mode"
	ActionSetTheme           = "set_theme"
	ActionUnknown            = "unknown"
)

// Parameter keys.
const (
	ParamDestination = "destination"
	ParamZone        = "zone"
	ParamTheme       = "theme"
)

// Fixed scores. Matches are not scored statistically: every table hit gets the
// confidence of its trigger kind.
const (
	ConfidenceExact   = 0.95
	ConfidenceKeyword = 0.9
	ConfidencePrefix  = 0.85
	ConfidenceUnknown = 0.1
)

// ParsedCommand is the structured result of interpreting one utterance.
type ParsedCommand struct {
	Intent               string            `json:"intent"`
	Action               string            `json:"action"`
	Parameters           map[string]string `json:"parameters"`
	Confidence           float64           `json:"confidence"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// Clone returns a deep copy.
func (c ParsedCommand) Clone() ParsedCommand {
	out := c
	out.Parameters = make(map[string]string, len(c.Parameters))
	for k, v := range c.Parameters {
		out.Parameters[k] = v
	}
	return out
}

// Param returns a parameter value or "".
func (c ParsedCommand) Param(key string) string {
	if c.Parameters == nil {
		return ""
	}
	return c.Parameters[key]
}

// IsUnknown reports whether no trigger matched.
func (c ParsedCommand) IsUnknown() bool {
	return c.Action == ActionUnknown
}
