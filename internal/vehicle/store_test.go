package vehicle

import "testing"

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore(Profile{})
	st := s.Snapshot()
	if st.Climate.DriverF != 72 || st.Climate.PassengerF != 74 {
		t.Fatalf("climate = %+v, want driver 72 passenger 74", st.Climate)
	}
	if len(st.Diagnostics) != 2 || st.Diagnostics[0].Code != "P0301" || st.Diagnostics[1].Code != "P0420" {
		t.Fatalf("diagnostics = %+v, want P0301,P0420", st.Diagnostics)
	}
	if st.Media.Track != "Midnight City" || st.Media.Artist != "M83" {
		t.Fatalf("media = %+v", st.Media)
	}
	if st.Theme != ThemeDefault {
		t.Fatalf("theme = %q, want %q", st.Theme, ThemeDefault)
	}
}

func TestRaiseTempClampsAtMax(t *testing.T) {
	s := NewStore(Profile{})
	want := []int{77, 82, 85, 85}
	for i, w := range want {
		got, err := s.RaiseTemp(ZoneDriver)
		if err != nil {
			t.Fatalf("RaiseTemp() error = %v", err)
		}
		if got != w {
			t.Fatalf("step %d: RaiseTemp() = %d, want %d", i, got, w)
		}
	}
	if p := s.Snapshot().Climate.PassengerF; p != 74 {
		t.Fatalf("passenger temp changed to %d", p)
	}
}

func TestLowerTempClampsAtMin(t *testing.T) {
	s := NewStore(Profile{})
	var got int
	for i := 0; i < 5; i++ {
		var err error
		got, err = s.LowerTemp(ZonePassenger)
		if err != nil {
			t.Fatalf("LowerTemp() error = %v", err)
		}
	}
	if got != 60 {
		t.Fatalf("LowerTemp() = %d, want 60", got)
	}
}

func TestAdjustTempUnknownZone(t *testing.T) {
	s := NewStore(Profile{})
	if _, err := s.RaiseTemp(Zone("rear")); err != ErrUnknownZone {
		t.Fatalf("error = %v, want ErrUnknownZone", err)
	}
}

func TestClearCodes(t *testing.T) {
	s := NewStore(Profile{})
	if n := s.ClearCodes(); n != 2 {
		t.Fatalf("ClearCodes() = %d, want 2", n)
	}
	if codes := s.Codes(); len(codes) != 0 {
		t.Fatalf("Codes() = %+v, want empty", codes)
	}
	if n := s.ClearCodes(); n != 0 {
		t.Fatalf("second ClearCodes() = %d, want 0", n)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore(Profile{})
	st := s.Snapshot()
	st.Diagnostics[0].Code = "X"
	st.Telemetry.TirePSI[0] = 99
	again := s.Snapshot()
	if again.Diagnostics[0].Code != "P0301" || again.Telemetry.TirePSI[0] != 33 {
		t.Fatalf("snapshot shares memory with store: %+v", again)
	}
}

func TestMassageCapsAtFive(t *testing.T) {
	s := NewStore(Profile{})
	for i := 1; i <= MaxMassageLevel; i++ {
		level, ok := s.IncreaseMassage()
		if !ok || level != i {
			t.Fatalf("IncreaseMassage() = %d,%v want %d,true", level, ok, i)
		}
	}
	if level, ok := s.IncreaseMassage(); ok || level != MaxMassageLevel {
		t.Fatalf("IncreaseMassage() at cap = %d,%v want %d,false", level, ok, MaxMassageLevel)
	}
}

func TestToggleCarWashAndTheme(t *testing.T) {
	s := NewStore(Profile{})
	if !s.ToggleCarWash() {
		t.Fatalf("first toggle should enable car wash mode")
	}
	if s.ToggleCarWash() {
		t.Fatalf("second toggle should disable car wash mode")
	}
	if err := s.SetTheme("Sporty"); err != nil {
		t.Fatalf("SetTheme() error = %v", err)
	}
	if s.Snapshot().Theme != ThemeSporty {
		t.Fatalf("theme = %q, want sporty", s.Snapshot().Theme)
	}
	if err := s.SetTheme("neon"); err != ErrUnknownTheme {
		t.Fatalf("SetTheme(neon) error = %v, want ErrUnknownTheme", err)
	}
}

func TestNavigationAndMedia(t *testing.T) {
	s := NewStore(Profile{})
	s.SetDestination("123 Main St")
	s.SetARMode(true)
	track, artist := s.Play()
	st := s.Snapshot()
	if st.Navigation.Destination != "123 Main St" || !st.Navigation.Open || !st.Navigation.ARMode {
		t.Fatalf("navigation = %+v", st.Navigation)
	}
	if !st.Media.Playing || track != "Midnight City" || artist != "M83" {
		t.Fatalf("media = %+v track=%q artist=%q", st.Media, track, artist)
	}
	s.Pause()
	if s.Snapshot().Media.Playing {
		t.Fatalf("Pause() left media playing")
	}
	if !s.TiresInRange() {
		t.Fatalf("default tires should be in range")
	}
}
