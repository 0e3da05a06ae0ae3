package gopsf

import (
	"errors"
	"testing"
)

func TestSelectStrategy(t *testing.T) {
	spot := &Occulter{Label: "spot", Shape: CircularOcculter, Radius: 0.4}
	wedge := &Occulter{Label: "wedge", Shape: WedgeOcculter, Width: 0.2, Slope: 0.05}
	bar := &Occulter{Label: "bar", Shape: BarOcculter, Width: 0.3}
	det := &Detector{Label: "det", PixelScale: 0.03, FOVPixels: 16, Oversample: 4}

	tests := []struct {
		name    string
		req     StrategyRequest
		want    StrategyKind
		grid    int
		notices int
		wantErr error
	}{
		{"detector defaults to mft", StrategyRequest{Target: det, GridSize: 64, FFTAvailable: true}, MatrixDFT, 64, 0, nil},
		{"forced fft on detector", StrategyRequest{Target: det, GridSize: 64, FFTAvailable: true, Force: FFT}, FFT, 64, 0, nil},
		{"forced fft without library", StrategyRequest{Target: det, GridSize: 64, Force: FFT}, MatrixDFT, 64, 1, nil},
		{"sam on detector", StrategyRequest{Target: det, GridSize: 64, Force: SemiAnalytic}, 0, 0, 0, ErrUnsupportedOcculter},
		{"coronagraphic spot", StrategyRequest{Target: spot, Coronagraphic: true, Oversample: 4, GridSize: 64}, SemiAnalytic, 256, 0, nil},
		{"spot with sam disabled", StrategyRequest{Target: spot, Coronagraphic: true, Oversample: 4, GridSize: 64, DisableSemiAnalytic: true}, MatrixDFT, 256, 0, nil},
		{"spot without lyot stop", StrategyRequest{Target: spot, Oversample: 4, GridSize: 64}, MatrixDFT, 256, 0, nil},
		{"forced sam without lyot stop", StrategyRequest{Target: spot, Oversample: 4, GridSize: 64, Force: SemiAnalytic}, 0, 0, 0, ErrUnsupportedOcculter},
		{"wedge uses fft", StrategyRequest{Target: wedge, Coronagraphic: true, Oversample: 2, GridSize: 64, FFTAvailable: true}, FFT, 128, 0, nil},
		{"bar demoted without fft", StrategyRequest{Target: bar, Coronagraphic: true, Oversample: 2, GridSize: 64}, MatrixDFT, 128, 1, nil},
		{"forced sam on bar", StrategyRequest{Target: bar, Coronagraphic: true, Oversample: 2, GridSize: 64, Force: SemiAnalytic}, 0, 0, 0, ErrUnsupportedOcculter},
		{"fft on unfriendly grid", StrategyRequest{Target: bar, Coronagraphic: true, Oversample: 1, GridSize: 77, FFTAvailable: true}, 0, 0, 0, ErrInvalidSampling},
		{"unknown shape", StrategyRequest{Target: &Occulter{Label: "fqpm", Shape: OcculterShape(7)}, GridSize: 64}, 0, 0, 0, ErrUnsupportedOcculter},
		{"pupil target", StrategyRequest{Target: &Pupil{Label: "lyot"}, GridSize: 64}, 0, 0, 0, ErrInvalidSystem},
		{"empty grid", StrategyRequest{Target: det}, 0, 0, 0, ErrInvalidSampling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, notices, err := SelectStrategy(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				var ce *ConfigurationError
				if !errors.As(err, &ce) {
					t.Errorf("err %T is not a ConfigurationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectStrategy failed: %v", err)
			}
			if s.Kind != tt.want || s.GridSize != tt.grid {
				t.Errorf("strategy = %s, want %s with grid %d", s, tt.want, tt.grid)
			}
			if len(notices) != tt.notices {
				t.Errorf("notices = %v, want %d", notices, tt.notices)
			}
			for _, n := range notices {
				if n.Kind != NoticeStrategyDemoted {
					t.Errorf("notice kind = %s", n.Kind)
				}
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]StrategyKind{
		"":              AutoStrategy,
		"AUTO":          AutoStrategy,
		"matrix":        MatrixDFT,
		"fft":           FFT,
		" sam ":         SemiAnalytic,
		"semi-analytic": SemiAnalytic,
	} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %s, %v", in, got, err)
		}
		if err == nil && got != AutoStrategy {
			if back, _ := ParseStrategy(got.String()); back != got {
				t.Errorf("%s does not round-trip", got)
			}
		}
	}
	if _, err := ParseStrategy("zoom"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestStrategyString(t *testing.T) {
	if got := (Strategy{Kind: FFT, GridSize: 128, Oversample: 2}).String(); got != "fft(128, x2)" {
		t.Errorf("String() = %q", got)
	}
	if got := (Strategy{Kind: SemiAnalytic, Inverse: true}).String(); got != "semi-analytic-inv" {
		t.Errorf("inverse String() = %q", got)
	}
}
