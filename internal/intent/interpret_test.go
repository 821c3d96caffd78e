package intent

import "testing"

func TestInterpretKnownPhrases(t *testing.T) {
	cases := []struct {
		in     string
		intent string
		action string
	}{
		{"show engine codes", IntentDiagnostic, ActionShowCodes},
		{"clear diagnostic codes", IntentDiagnostic, ActionClearCodes},
		{"check tire pressure", IntentDiagnostic, ActionTirePressure},
		{"what is my fuel economy", IntentTelemetry, ActionFuelEconomy},
		{"show maintenance schedule", IntentMaintenance, ActionMaintenance},
		{"it's freezing in here", IntentClimate, ActionRaiseDriverTemp},
		{"I'm too hot", IntentClimate, ActionLowerDriverTemp},
		{"my passenger is cold", IntentClimate, ActionRaisePassengerTemp},
		{"the passenger feels warm", IntentClimate, ActionLowerPassengerTemp},
		{"start ar navigation", IntentNavigation, ActionARNavigation},
		{"I need directions", IntentNavigation, ActionOpenNavigation},
		{"play some music", IntentMedia, ActionPlayMusic},
		{"stop the music", IntentMedia, ActionPauseMusic},
		{"pause", IntentMedia, ActionPauseMusic},
		{"vehicle status please", IntentDiagnostic, ActionVehicleStatus},
		{"give me a trip summary", IntentTrip, ActionTripSummary},
		{"turn on the massage", IntentComfort, ActionMassage},
		{"car wash mode", IntentComfort, ActionCarWash},
		{"switch to sport mode", IntentTheme, ActionSetTheme},
	}
	for _, tc := range cases {
		got := Interpret(tc.in)
		if got.Intent != tc.intent || got.Action != tc.action {
			t.Fatalf("Interpret(%q) = %s/%s, want %s/%s", tc.in, got.Intent, got.Action, tc.intent, tc.action)
		}
		if got.Confidence < 0.85 || got.Confidence > 0.95 {
			t.Fatalf("Interpret(%q).Confidence = %.2f, want within [0.85,0.95]", tc.in, got.Confidence)
		}
	}
}

func TestInterpretIgnoresCaseAndWhitespace(t *testing.T) {
	got := Interpret("  PLAY music  ")
	if got.Action != ActionPlayMusic {
		t.Fatalf("Action = %q, want %q", got.Action, ActionPlayMusic)
	}
	again := Interpret("play\tMUSIC")
	if again.Action != got.Action || again.Intent != got.Intent {
		t.Fatalf("Interpret mismatch: %+v vs %+v", again, got)
	}
}

func TestInterpretPassengerBeatsDriver(t *testing.T) {
	got := Interpret("passenger is cold")
	if got.Action != ActionRaisePassengerTemp {
		t.Fatalf("Action = %q, want %q", got.Action, ActionRaisePassengerTemp)
	}
	if got.Param(ParamZone) != "passenger" {
		t.Fatalf("zone = %q, want passenger", got.Param(ParamZone))
	}
}

func TestInterpretUnknown(t *testing.T) {
	for _, in := range []string{"", "   ", "tell me a joke", "display settings"} {
		got := Interpret(in)
		if got.Intent != IntentUnknown || got.Action != ActionUnknown {
			t.Fatalf("Interpret(%q) = %s/%s, want unknown", in, got.Intent, got.Action)
		}
		if got.Confidence != ConfidenceUnknown {
			t.Fatalf("Interpret(%q).Confidence = %.2f, want %.2f", in, got.Confidence, ConfidenceUnknown)
		}
		if got.RequiresConfirmation {
			t.Fatalf("Interpret(%q).RequiresConfirmation = true, want false", in)
		}
		if got.Parameters == nil {
			t.Fatalf("Interpret(%q).Parameters is nil", in)
		}
	}
}

func TestInterpretDestination(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"navigate to 123 Main St", "123 Main St"},
		{"Plan route to   Golden Gate Park", "Golden Gate Park"},
		{"please take me to Warm Springs", "Warm Springs"},
		{"navigate to", ""},
		{"navigate to   ", ""},
	}
	for _, tc := range cases {
		got := Interpret(tc.in)
		if got.Action != ActionPlanRoute {
			t.Fatalf("Interpret(%q).Action = %q, want %q", tc.in, got.Action, ActionPlanRoute)
		}
		dest, ok := got.Parameters[ParamDestination]
		if !ok {
			t.Fatalf("Interpret(%q) missing destination parameter", tc.in)
		}
		if dest != tc.want {
			t.Fatalf("Interpret(%q) destination = %q, want %q", tc.in, dest, tc.want)
		}
		if got.Confidence != ConfidencePrefix {
			t.Fatalf("Interpret(%q).Confidence = %.2f, want %.2f", tc.in, got.Confidence, ConfidencePrefix)
		}
	}
}

func TestInterpretConfirmationOnlyForClearCodes(t *testing.T) {
	for _, tr := range Table() {
		if tr.Confirm && tr.Action != ActionClearCodes {
			t.Fatalf("trigger %q requires confirmation, only clear_codes should", tr.Name)
		}
	}
	if !Interpret("clear engine codes").RequiresConfirmation {
		t.Fatalf("clear engine codes should require confirmation")
	}
	if Interpret("show engine codes").RequiresConfirmation {
		t.Fatalf("show engine codes should not require confirmation")
	}
}

func TestInterpretWholeWordMatching(t *testing.T) {
	if got := Interpret("display the hotel list"); got.Action != ActionUnknown {
		t.Fatalf("Action = %q, want unknown", got.Action)
	}
}

func TestParsedCommandCloneIsDeep(t *testing.T) {
	orig := Interpret("navigate to Oslo")
	c := orig.Clone()
	c.Parameters[ParamDestination] = "Bergen"
	if orig.Param(ParamDestination) != "Oslo" {
		t.Fatalf("original destination mutated: %q", orig.Param(ParamDestination))
	}
}

func TestTableReturnsCopy(t *testing.T) {
	tbl := Table()
	tbl[0].Prefixes[0] = "mutated"
	if Table()[0].Prefixes[0] == "mutated" {
		t.Fatalf("Table() leaked internal slice")
	}
}
