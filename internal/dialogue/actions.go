package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ent0n29/copilot/internal/intent"
	"github.com/ent0n29/copilot/internal/vehicle"
)

// ActionFunc executes one action tag against the vehicle and returns the
// reply text. Errors wrapped in *UserError surface their message verbatim.
type ActionFunc func(ctx context.Context, store *vehicle.Store, cmd intent.ParsedCommand) (string, error)

// DefaultActions returns a fresh copy of the built-in action table.
func DefaultActions() map[string]ActionFunc {
	return map[string]ActionFunc{
		intent.ActionClearCodes:         clearCodes,
		intent.ActionShowCodes:          showCodes,
		intent.ActionTirePressure:       tirePressure,
		intent.ActionFuelEconomy:        fuelEconomy,
		intent.ActionMaintenance:        maintenanceSchedule,
		intent.ActionPlanRoute:          planRoute,
		intent.ActionARNavigation:       arNavigation,
		intent.ActionOpenNavigation:     openNavigation,
		intent.ActionRaiseDriverTemp:    adjustTemp(vehicle.ZoneDriver, 1),
		intent.ActionLowerDriverTemp:    adjustTemp(vehicle.ZoneDriver, -1),
		intent.ActionRaisePassengerTemp: adjustTemp(vehicle.ZonePassenger, 1),
		intent.ActionLowerPassengerTemp: adjustTemp(vehicle.ZonePassenger, -1),
		intent.ActionPauseMusic:         pauseMusic,
		intent.ActionPlayMusic:          playMusic,
		intent.ActionVehicleStatus:      vehicleStatus,
		intent.ActionTripSummary:        tripSummary,
		intent.ActionMassage:            massage,
		intent.ActionCarWash:            carWash,
		intent.ActionSetTheme:           setTheme,
		intent.ActionUnknown:            fallback,
	}
}

func clearCodes(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	n := store.ClearCodes()
	if n == 0 {
		return "No diagnostic codes to clear.", nil
	}
	return fmt.Sprintf("Cleared %s. The check engine light has been reset.", pluralCodes(n)), nil
}

func showCodes(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	codes := store.Codes()
	if len(codes) == 0 {
		return "No diagnostic codes found.", nil
	}
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Code, c.Description))
	}
	return fmt.Sprintf("Found %s: %s.", pluralCodes(len(codes)), strings.Join(parts, ", ")), nil
}

func tirePressure(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	t := store.Snapshot().Telemetry
	if store.TiresInRange() {
		return fmt.Sprintf("All tires within normal range (%d-%d PSI)", t.TireMinPSI, t.TireMaxPSI), nil
	}
	readings := make([]string, 0, len(t.TirePSI))
	for _, psi := range t.TirePSI {
		readings = append(readings, strconv.Itoa(psi))
	}
	return fmt.Sprintf("Check tire pressure: readings are %s PSI, normal range is %d-%d PSI",
		strings.Join(readings, ", "), t.TireMinPSI, t.TireMaxPSI), nil
}

func fuelEconomy(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	mpg := store.Snapshot().Telemetry.FuelEconomyMPG
	return fmt.Sprintf("Current fuel economy: %.1f MPG", mpg), nil
}

func maintenanceSchedule(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	miles := store.Snapshot().Telemetry.NextServiceMiles
	return fmt.Sprintf("Next service due in %s miles", thousands(miles)), nil
}

func planRoute(_ context.Context, store *vehicle.Store, cmd intent.ParsedCommand) (string, error) {
	dest := strings.TrimSpace(cmd.Param(intent.ParamDestination))
	if dest == "" {
		store.OpenNavigation()
		return "Where would you like to go?", nil
	}
	store.SetDestination(dest)
	return "Route planned to " + dest, nil
}

func arNavigation(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	store.SetARMode(true)
	return "AR navigation activated. Follow the highlighted path on your windshield display.", nil
}

func openNavigation(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	store.OpenNavigation()
	return "Opening navigation. Where would you like to go?", nil
}

func adjustTemp(zone vehicle.Zone, dir int) ActionFunc {
	return func(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
		var (
			temp int
			err  error
		)
		if dir > 0 {
			temp, err = store.RaiseTemp(zone)
		} else {
			temp, err = store.LowerTemp(zone)
		}
		if err != nil {
			return "", err
		}
		switch {
		case zone == vehicle.ZoneDriver && dir > 0:
			return fmt.Sprintf("I've increased your temperature to %d°F to warm you up.", temp), nil
		case zone == vehicle.ZoneDriver:
			return fmt.Sprintf("I've decreased your temperature to %d°F to cool you down.", temp), nil
		case dir > 0:
			return fmt.Sprintf("I've increased the passenger temperature to %d°F.", temp), nil
		default:
			return fmt.Sprintf("I've decreased the passenger temperature to %d°F.", temp), nil
		}
	}
}

func pauseMusic(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	store.Pause()
	return "Music paused", nil
}

func playMusic(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	track, artist := store.Play()
	return fmt.Sprintf("Now playing %s by %s", track, artist), nil
}

func vehicleStatus(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	n := len(store.Codes())
	if n == 0 {
		return "Displaying vehicle diagnostics. All systems are operating normally.", nil
	}
	verb := "needs"
	if n != 1 {
		verb = "need"
	}
	return fmt.Sprintf("Displaying vehicle diagnostics. %s %s attention.", pluralCodes(n), verb), nil
}

func tripSummary(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	trip := store.Snapshot().Telemetry.LastTrip
	return fmt.Sprintf("Your last trip covered %.1f miles in %d minutes at an average of %.1f MPG.",
		trip.DistanceMiles, trip.DurationMinutes, trip.AverageMPG), nil
}

func massage(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	level, ok := store.IncreaseMassage()
	if !ok {
		return fmt.Sprintf("Seat massage is already at the maximum level of %d.", level), nil
	}
	return fmt.Sprintf("Seat massage set to level %d.", level), nil
}

func carWash(_ context.Context, store *vehicle.Store, _ intent.ParsedCommand) (string, error) {
	if store.ToggleCarWash() {
		return "Car wash mode activated. Windows and mirrors will close.", nil
	}
	return "Car wash mode deactivated.", nil
}

func setTheme(_ context.Context, store *vehicle.Store, cmd intent.ParsedCommand) (string, error) {
	theme := cmd.Param(intent.ParamTheme)
	if err := store.SetTheme(theme); err != nil {
		return "", &UserError{Message: "Sorry, that theme isn't available.", Err: err}
	}
	return fmt.Sprintf("Switched to the %s theme.", theme), nil
}

func fallback(context.Context, *vehicle.Store, intent.ParsedCommand) (string, error) {
	return FallbackResponse, nil
}

func pluralCodes(n int) string {
	if n == 1 {
		return "1 diagnostic code"
	}
	return fmt.Sprintf("%d diagnostic codes", n)
}

// thousands formats n with comma separators: 2500 -> "2,500".
func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
