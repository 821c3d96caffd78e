package intent

import "github.com/ent0n29/copilot/internal/policy"

// Trigger is one row of the priority table. A row matches when every word in
// All is present and, if Any is set, at least one phrase in Any is present.
// Rows with Prefixes match when one of the prefixes occurs on a word boundary;
// the text after it becomes the Param value. Confirm is filled from the action
// policy and only reported by Table.
type Trigger struct {
	Name       string            `json:"name"`
	Intent     string            `json:"intent"`
	Action     string            `json:"action"`
	Confirm    bool              `json:"requires_confirmation"`
	Confidence float64           `json:"confidence"`
	Any        []string          `json:"any,omitempty"`
	All        []string          `json:"all,omitempty"`
	Prefixes   []string          `json:"prefixes,omitempty"`
	Param      string            `json:"param,omitempty"`
	Fixed      map[string]string `json:"fixed,omitempty"`
}

// Rows are checked top to bottom and the first hit wins.
//
// Route prefixes sit above everything else so a spoken destination cannot
// trigger an unrelated action ("navigate to Warm Springs"). The irreversible
// clear_codes row comes next so "clear engine codes" never resolves to
// show_codes. Passenger climate rows precede the driver rows, and pause
// precedes play because "stop the music" also contains "music".
var triggers = []Trigger{
	{
		Name:       "route_with_destination",
		Intent:     IntentNavigation,
		Action:     ActionPlanRoute,
		Confidence: ConfidencePrefix,
		Prefixes:   []string{"plan route to", "plan a route to", "navigate to", "directions to", "take me to"},
		Param:      ParamDestination,
	},
	{
		Name:       "clear_codes",
		Intent:     IntentDiagnostic,
		Action:     ActionClearCodes,
		Confidence: ConfidenceExact,
		Any:        []string{"clear diagnostic codes", "clear engine codes", "clear codes", "clear the codes", "reset check engine"},
	},
	{
		Name:       "show_codes",
		Intent:     IntentDiagnostic,
		Action:     ActionShowCodes,
		Confidence: ConfidenceExact,
		Any:        []string{"show engine codes", "show diagnostic codes", "read codes", "engine codes", "diagnostic codes"},
	},
	{
		Name:       "tire_pressure",
		Intent:     IntentDiagnostic,
		Action:     ActionTirePressure,
		Confidence: ConfidenceExact,
		Any:        []string{"tire pressure", "tyre pressure"},
	},
	{
		Name:       "fuel_economy",
		Intent:     IntentTelemetry,
		Action:     ActionFuelEconomy,
		Confidence: ConfidenceExact,
		Any:        []string{"fuel economy", "mpg", "gas mileage"},
	},
	{
		Name:       "maintenance_schedule",
		Intent:     IntentMaintenance,
		Action:     ActionMaintenance,
		Confidence: ConfidenceExact,
		Any:        []string{"maintenance", "service due"},
	},
	{
		Name:       "ar_navigation",
		Intent:     IntentNavigation,
		Action:     ActionARNavigation,
		Confidence: ConfidenceKeyword,
		Any:        []string{"ar navigation", "augmented reality"},
	},
	{
		Name:       "open_navigation",
		Intent:     IntentNavigation,
		Action:     ActionOpenNavigation,
		Confidence: ConfidenceKeyword,
		Any:        []string{"navigate", "navigation", "directions", "route"},
	},
	{
		Name:       "passenger_cold",
		Intent:     IntentClimate,
		Action:     ActionRaisePassengerTemp,
		Confidence: ConfidenceKeyword,
		All:        []string{"passenger"},
		Any:        []string{"cold", "freezing", "chilly"},
		Fixed:      map[string]string{ParamZone: "passenger"},
	},
	{
		Name:       "passenger_hot",
		Intent:     IntentClimate,
		Action:     ActionLowerPassengerTemp,
		Confidence: ConfidenceKeyword,
		All:        []string{"passenger"},
		Any:        []string{"hot", "warm"},
		Fixed:      map[string]string{ParamZone: "passenger"},
	},
	{
		Name:       "driver_cold",
		Intent:     IntentClimate,
		Action:     ActionRaiseDriverTemp,
		Confidence: ConfidenceKeyword,
		Any:        []string{"cold", "freezing", "chilly"},
		Fixed:      map[string]string{ParamZone: "driver"},
	},
	{
		Name:       "driver_hot",
		Intent:     IntentClimate,
		Action:     ActionLowerDriverTemp,
		Confidence: ConfidenceKeyword,
		Any:        []string{"hot", "warm"},
		Fixed:      map[string]string{ParamZone: "driver"},
	},
	{
		Name:       "pause_music",
		Intent:     IntentMedia,
		Action:     ActionPauseMusic,
		Confidence: ConfidenceKeyword,
		Any:        []string{"pause", "stop music", "stop the music", "stop playing"},
	},
	{
		Name:       "play_music",
		Intent:     IntentMedia,
		Action:     ActionPlayMusic,
		Confidence: ConfidenceKeyword,
		Any:        []string{"play", "music"},
	},
	{
		Name:       "vehicle_status",
		Intent:     IntentDiagnostic,
		Action:     ActionVehicleStatus,
		Confidence: ConfidenceKeyword,
		Any:        []string{"status", "diagnostics", "health check", "vehicle health"},
	},
	{
		Name:       "trip_summary",
		Intent:     IntentTrip,
		Action:     ActionTripSummary,
		Confidence: ConfidenceKeyword,
		Any:        []string{"trip summary", "journey", "trip"},
	},
	{
		Name:       "massage",
		Intent:     IntentComfort,
		Action:     ActionMassage,
		Confidence: ConfidenceKeyword,
		Any:        []string{"massage"},
	},
	{
		Name:       "car_wash",
		Intent:     IntentComfort,
		Action:     ActionCarWash,
		Confidence: ConfidenceKeyword,
		Any:        []string{"car wash"},
	},
	{
		Name:       "theme_sporty",
		Intent:     IntentTheme,
		Action:     ActionSetTheme,
		Confidence: ConfidenceKeyword,
		Any:        []string{"sporty", "sport mode"},
		Fixed:      map[string]string{ParamTheme: "sporty"},
	},
	{
		Name:       "theme_classic",
		Intent:     IntentTheme,
		Action:     ActionSetTheme,
		Confidence: ConfidenceKeyword,
		Any:        []string{"classic", "traditional"},
		Fixed:      map[string]string{ParamTheme: "classic"},
	},
	{
		Name:       "theme_discreet",
		Intent:     IntentTheme,
		Action:     ActionSetTheme,
		Confidence: ConfidenceKeyword,
		Any:        []string{"discreet", "minimal"},
		Fixed:      map[string]string{ParamTheme: "discreet"},
	},
}

// Table returns a copy of the trigger table in priority order.
func Table() []Trigger {
	out := make([]Trigger, len(triggers))
	for i, t := range triggers {
		c := t
		c.Confirm = policy.DecideAction(t.Action).RequiresConfirmation
		c.Any = append([]string(nil), t.Any...)
		c.All = append([]string(nil), t.All...)
		c.Prefixes = append([]string(nil), t.Prefixes...)
		if t.Fixed != nil {
			c.Fixed = make(map[string]string, len(t.Fixed))
			for k, v := range t.Fixed {
				c.Fixed[k] = v
			}
		}
		out[i] = c
	}
	return out
}

// Actions lists every action tag the table can produce, plus unknown.
func Actions() []string {
	seen := make(map[string]bool, len(triggers))
	out := make([]string, 0, len(triggers)+1)
	for _, t := range triggers {
		if seen[t.Action] {
			continue
		}
		seen[t.Action] = true
		out = append(out, t.Action)
	}
	return append(out, ActionUnknown)
}
