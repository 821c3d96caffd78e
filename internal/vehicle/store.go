package vehicle

import (
	"errors"
	"strings"
	"sync"
	"time"
)

type Zone string

const (
	ZoneDriver    Zone = "driver"
	ZonePassenger Zone = "passenger"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	ThemeDefault  = "default"
	ThemeSporty   = "sporty"
	ThemeClassic  = "classic"
	ThemeDiscreet = "discreet"
)

// MaxMassageLevel is the highest seat massage setting.
const MaxMassageLevel = 5

var (
	ErrUnknownZone  = errors.New("unknown climate zone")
	ErrUnknownTheme = errors.New("unknown theme")
)

type DiagnosticCode struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
}

type Trip struct {
	DistanceMiles   float64 `json:"distance_miles" yaml:"distance_miles"`
	DurationMinutes int     `json:"duration_minutes" yaml:"duration_minutes"`
	AverageMPG      float64 `json:"average_mpg" yaml:"average_mpg"`
}

type Climate struct {
	DriverF    int `json:"driver_f"`
	PassengerF int `json:"passenger_f"`
	StepF      int `json:"step_f"`
	MinF       int `json:"min_f"`
	MaxF       int `json:"max_f"`
}

type Navigation struct {
	Open        bool   `json:"open"`
	Destination string `json:"destination"`
	ARMode      bool   `json:"ar_mode"`
}

type Media struct {
	Playing bool   `json:"playing"`
	Track   string `json:"track"`
	Artist  string `json:"artist"`
}

type Comfort struct {
	MassageLevel int  `json:"massage_level"`
	CarWashMode  bool `json:"car_wash_mode"`
}

type Telemetry struct {
	FuelEconomyMPG   float64 `json:"fuel_economy_mpg"`
	TirePSI          []int   `json:"tire_psi"`
	TireMinPSI       int     `json:"tire_min_psi"`
	TireMaxPSI       int     `json:"tire_max_psi"`
	NextServiceMiles int     `json:"next_service_miles"`
	LastTrip         Trip    `json:"last_trip"`
}

// State is a point-in-time copy of the vehicle.
type State struct {
	Climate     Climate          `json:"climate"`
	Navigation  Navigation       `json:"navigation"`
	Media       Media            `json:"media"`
	Diagnostics []DiagnosticCode `json:"diagnostic_codes"`
	Comfort     Comfort          `json:"comfort"`
	Theme       string           `json:"theme"`
	Telemetry   Telemetry        `json:"telemetry"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Store holds the mutable vehicle state for one session.
type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore(p Profile) *Store {
	p = p.withDefaults()
	return &Store{
		state: State{
			Climate: Climate{
				DriverF:    p.Climate.DriverF,
				PassengerF: p.Climate.PassengerF,
				StepF:      p.Climate.StepF,
				MinF:       p.Climate.MinF,
				MaxF:       p.Climate.MaxF,
			},
			Media: Media{
				Track:  p.Media.Track,
				Artist: p.Media.Artist,
			},
			Diagnostics: append([]DiagnosticCode{}, p.Diagnostics...),
			Theme:       p.Theme,
			Telemetry: Telemetry{
				FuelEconomyMPG:   p.Telemetry.FuelEconomyMPG,
				TirePSI:          append([]int(nil), p.Telemetry.TirePSI...),
				TireMinPSI:       p.Telemetry.TireMinPSI,
				TireMaxPSI:       p.Telemetry.TireMaxPSI,
				NextServiceMiles: p.Telemetry.NextServiceMiles,
				LastTrip:         p.Telemetry.Trip,
			},
			UpdatedAt: time.Now().UTC(),
		},
	}
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	out.Diagnostics = append([]DiagnosticCode{}, s.state.Diagnostics...)
	out.Telemetry.TirePSI = append([]int(nil), s.state.Telemetry.TirePSI...)
	return out
}

// RaiseTemp adds one step to the zone, clamped at the maximum.
func (s *Store) RaiseTemp(zone Zone) (int, error) {
	return s.adjustTemp(zone, 1)
}

// LowerTemp subtracts one step from the zone, clamped at the minimum.
func (s *Store) LowerTemp(zone Zone) (int, error) {
	return s.adjustTemp(zone, -1)
}

func (s *Store) adjustTemp(zone Zone, dir int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.state.Climate
	var target *int
	switch zone {
	case ZoneDriver:
		target = &c.DriverF
	case ZonePassenger:
		target = &c.PassengerF
	default:
		return 0, ErrUnknownZone
	}
	next := *target + dir*c.StepF
	if next > c.MaxF {
		next = c.MaxF
	}
	if next < c.MinF {
		next = c.MinF
	}
	*target = next
	s.touchLocked()
	return next, nil
}

func (s *Store) SetDestination(dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Navigation.Open = true
	s.state.Navigation.Destination = dest
	s.touchLocked()
}

func (s *Store) OpenNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Navigation.Open = true
	s.touchLocked()
}

func (s *Store) SetARMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Navigation.ARMode = on
	if on {
		s.state.Navigation.Open = true
	}
	s.touchLocked()
}

// Play starts playback and returns the current track and artist.
func (s *Store) Play() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Media.Playing = true
	s.touchLocked()
	return s.state.Media.Track, s.state.Media.Artist
}

func (s *Store) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Media.Playing = false
	s.touchLocked()
}

func (s *Store) Codes() []DiagnosticCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DiagnosticCode{}, s.state.Diagnostics...)
}

// ClearCodes empties the code store and returns how many codes were removed.
func (s *Store) ClearCodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.state.Diagnostics)
	s.state.Diagnostics = []DiagnosticCode{}
	s.touchLocked()
	return n
}

// IncreaseMassage bumps the massage level. It reports false when the level
// was already at MaxMassageLevel.
func (s *Store) IncreaseMassage() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Comfort.MassageLevel >= MaxMassageLevel {
		return MaxMassageLevel, false
	}
	s.state.Comfort.MassageLevel++
	s.touchLocked()
	return s.state.Comfort.MassageLevel, true
}

func (s *Store) ToggleCarWash() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Comfort.CarWashMode = !s.state.Comfort.CarWashMode
	s.touchLocked()
	return s.state.Comfort.CarWashMode
}

func (s *Store) SetTheme(theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if !validTheme(theme) {
		return ErrUnknownTheme
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Theme = theme
	s.touchLocked()
	return nil
}

// TiresInRange reports whether every tire reads within the nominal band.
func (s *Store) TiresInRange() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.state.Telemetry
	for _, psi := range t.TirePSI {
		if psi < t.TireMinPSI || psi > t.TireMaxPSI {
			return false
		}
	}
	return true
}

func (s *Store) touchLocked() {
	s.state.UpdatedAt = time.Now().UTC()
}

func validTheme(theme string) bool {
	switch theme {
	case ThemeDefault, ThemeSporty, ThemeClassic, ThemeDiscreet:
		return true
	default:
		return false
	}
}
