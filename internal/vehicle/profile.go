package vehicle

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile seeds a Store. Zero-valued fields fall back to DefaultProfile.
type Profile struct {
	Climate     ClimateProfile   `yaml:"climate"`
	Media       MediaProfile     `yaml:"media"`
	Diagnostics []DiagnosticCode `yaml:"diagnostic_codes"`
	Telemetry   TelemetryProfile `yaml:"telemetry"`
	Theme       string           `yaml:"theme"`
}

type ClimateProfile struct {
	DriverF    int `yaml:"driver_f"`
	PassengerF int `yaml:"passenger_f"`
	StepF      int `yaml:"step_f"`
	MinF       int `yaml:"min_f"`
	MaxF       int `yaml:"max_f"`
}

type MediaProfile struct {
	Track  string `yaml:"track"`
	Artist string `yaml:"artist"`
}

type TelemetryProfile struct {
	FuelEconomyMPG   float64 `yaml:"fuel_economy_mpg"`
	TirePSI          []int   `yaml:"tire_psi"`
	TireMinPSI       int     `yaml:"tire_min_psi"`
	TireMaxPSI       int     `yaml:"tire_max_psi"`
	NextServiceMiles int     `yaml:"next_service_miles"`
	Trip             Trip    `yaml:"last_trip"`
}

// DefaultProfile mirrors the demo vehicle the dashboard ships with.
func DefaultProfile() Profile {
	return Profile{
		Climate: ClimateProfile{
			DriverF:    72,
			PassengerF: 74,
			StepF:      5,
			MinF:       60,
			MaxF:       85,
		},
		Media: MediaProfile{
			Track:  "Midnight City",
			Artist: "M83",
		},
		Diagnostics: []DiagnosticCode{
			{Code: "P0301", Description: "Cylinder 1 misfire detected", Severity: SeverityHigh},
			{Code: "P0420", Description: "Catalyst system efficiency below threshold", Severity: SeverityMedium},
		},
		Telemetry: TelemetryProfile{
			FuelEconomyMPG:   28.5,
			TirePSI:          []int{33, 34, 32, 35},
			TireMinPSI:       32,
			TireMaxPSI:       35,
			NextServiceMiles: 2500,
			Trip: Trip{
				DistanceMiles:   42.7,
				DurationMinutes: 58,
				AverageMPG:      29.1,
			},
		},
		Theme: ThemeDefault,
	}
}

// LoadProfile reads a YAML profile. An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read vehicle profile %s: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes YAML, fills unset fields from the defaults and validates.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("invalid vehicle profile: %w", err)
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) withDefaults() Profile {
	d := DefaultProfile()
	if p.Climate.StepF == 0 {
		p.Climate.StepF = d.Climate.StepF
	}
	if p.Climate.MinF == 0 {
		p.Climate.MinF = d.Climate.MinF
	}
	if p.Climate.MaxF == 0 {
		p.Climate.MaxF = d.Climate.MaxF
	}
	if p.Climate.DriverF == 0 {
		p.Climate.DriverF = d.Climate.DriverF
	}
	if p.Climate.PassengerF == 0 {
		p.Climate.PassengerF = d.Climate.PassengerF
	}
	if strings.TrimSpace(p.Media.Track) == "" {
		p.Media = d.Media
	}
	// A profile that omits the key keeps the demo codes; an explicit empty
	// list starts with a clean code store.
	if p.Diagnostics == nil {
		p.Diagnostics = d.Diagnostics
	}
	if p.Telemetry.FuelEconomyMPG == 0 {
		p.Telemetry.FuelEconomyMPG = d.Telemetry.FuelEconomyMPG
	}
	if len(p.Telemetry.TirePSI) == 0 {
		p.Telemetry.TirePSI = d.Telemetry.TirePSI
	}
	if p.Telemetry.TireMinPSI == 0 {
		p.Telemetry.TireMinPSI = d.Telemetry.TireMinPSI
	}
	if p.Telemetry.TireMaxPSI == 0 {
		p.Telemetry.TireMaxPSI = d.Telemetry.TireMaxPSI
	}
	if p.Telemetry.NextServiceMiles == 0 {
		p.Telemetry.NextServiceMiles = d.Telemetry.NextServiceMiles
	}
	if p.Telemetry.Trip == (Trip{}) {
		p.Telemetry.Trip = d.Telemetry.Trip
	}
	if strings.TrimSpace(p.Theme) == "" {
		p.Theme = d.Theme
	}
	return p
}

// Validate checks climate bounds and theme names.
func (p Profile) Validate() error {
	c := p.Climate
	if c.StepF <= 0 {
		return fmt.Errorf("climate.step_f must be positive")
	}
	if c.MinF >= c.MaxF {
		return fmt.Errorf("climate.min_f must be below climate.max_f")
	}
	if c.DriverF < c.MinF || c.DriverF > c.MaxF {
		return fmt.Errorf("climate.driver_f must be within [%d,%d]", c.MinF, c.MaxF)
	}
	if c.PassengerF < c.MinF || c.PassengerF > c.MaxF {
		return fmt.Errorf("climate.passenger_f must be within [%d,%d]", c.MinF, c.MaxF)
	}
	if p.Telemetry.TireMinPSI > p.Telemetry.TireMaxPSI {
		return fmt.Errorf("telemetry.tire_min_psi must not exceed telemetry.tire_max_psi")
	}
	if !validTheme(p.Theme) {
		return fmt.Errorf("unknown theme %q", p.Theme)
	}
	for _, code := range p.Diagnostics {
		if strings.TrimSpace(code.Code) == "" {
			return fmt.Errorf("diagnostic_codes entries need a code")
		}
	}
	return nil
}
