package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeAuto   = "auto"
	ModeChoice = "choice"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	ProgressionMode  string `yaml:"progression_mode"`
	EvolutionCatalog string `yaml:"evolution_catalog"`
	OfferSize        int    `yaml:"offer_size"`

	Physics  Physics  `yaml:"physics"`
	Player   Player   `yaml:"player"`
	Grapple  Grapple  `yaml:"grapple"`
	Jump     Jump     `yaml:"jump"`
	Fall     Fall     `yaml:"fall"`
	Gimmicks Gimmicks `yaml:"gimmicks"`
	Pickups  Pickups  `yaml:"pickups"`
}

type Physics struct {
	Gravity    float64 `yaml:"gravity"`
	Iterations uint    `yaml:"iterations"`
}

type Player struct {
	MaxHP      int     `yaml:"max_hp"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	Mass       float64 `yaml:"mass"`
	Friction   float64 `yaml:"friction"`
	RunSpeed   float64 `yaml:"run_speed"`
	AirControl float64 `yaml:"air_control"`
}

type Grapple struct {
	Range         float64 `yaml:"range"`
	MinRope       float64 `yaml:"min_rope"`
	ReelSpeed     float64 `yaml:"reel_speed"`
	AimConeDeg    float64 `yaml:"aim_cone_deg"`
	AngleWeight   float64 `yaml:"angle_weight"`
	DistWeight    float64 `yaml:"dist_weight"`
	Stiffness     float64 `yaml:"stiffness"`
	Damping       float64 `yaml:"damping"`
	BoostImpulse  float64 `yaml:"boost_impulse"`
	Momentum      float64 `yaml:"momentum"`
	MomentumScale float64 `yaml:"momentum_scale"`
}

type Jump struct {
	Enabled        bool    `yaml:"enabled"`
	Impulse        float64 `yaml:"impulse"`
	ChargeMaxMs    float64 `yaml:"charge_max_ms"`
	ChargeBonus    float64 `yaml:"charge_bonus"`
	WallSlideSpeed float64 `yaml:"wall_slide_speed"`
	WallJumpPush   float64 `yaml:"wall_jump_push"`
}

// Band maps fall distances in [From, To] linearly onto damage [Min, Max].
type Band struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

type Fall struct {
	Threshold float64 `yaml:"threshold"`
	Bands     []Band  `yaml:"bands"`
}

type Gimmicks struct {
	DecoyWarnMs     float64 `yaml:"decoy_warn_ms"`
	DecoyDetachMs   float64 `yaml:"decoy_detach_ms"`
	BreakWarnMs     float64 `yaml:"break_warn_ms"`
	BreakCollapseMs float64 `yaml:"break_collapse_ms"`
	BreakRespawnMs  float64 `yaml:"break_respawn_ms"`
	BreakFadeMs     float64 `yaml:"break_fade_ms"`
	ParkY           float64 `yaml:"park_y"`
}

type Pickups struct {
	MatchRadius float64 `yaml:"match_radius"`
	RecoveryHP  int     `yaml:"recovery_hp"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:       60,
		ProgressionMode:  ModeAuto,
		EvolutionCatalog: "evolution_chain.json",
		OfferSize:        3,
		Physics: Physics{
			Gravity:    1200,
			Iterations: 10,
		},
		Player: Player{
			MaxHP:      100,
			Width:      24,
			Height:     32,
			Mass:       1,
			Friction:   0.6,
			RunSpeed:   220,
			AirControl: 500,
		},
		Grapple: Grapple{
			Range:         260,
			MinRope:       30,
			ReelSpeed:     3,
			AimConeDeg:    60,
			AngleWeight:   200,
			DistWeight:    0.5,
			Stiffness:     60,
			Damping:       4,
			BoostImpulse:  420,
			Momentum:      0.3,
			MomentumScale: 1,
		},
		Jump: Jump{
			Enabled:        true,
			Impulse:        480,
			ChargeMaxMs:    800,
			ChargeBonus:    0.6,
			WallSlideSpeed: 60,
			WallJumpPush:   260,
		},
		Fall: Fall{
			Threshold: 150,
			Bands: []Band{
				{From: 150, To: 300, Min: 5, Max: 10},
				{From: 300, To: 600, Min: 10, Max: 35},
				{From: 600, To: 1000, Min: 35, Max: 100},
			},
		},
		Gimmicks: Gimmicks{
			DecoyWarnMs:     1000,
			DecoyDetachMs:   2000,
			BreakWarnMs:     500,
			BreakCollapseMs: 1200,
			BreakRespawnMs:  3000,
			BreakFadeMs:     600,
			ParkY:           -100000,
		},
		Pickups: Pickups{
			MatchRadius: 40,
			RecoveryHP:  30,
		},
	}
}

// Load reads tuning.yaml on top of Defaults, so a file only needs the keys it overrides.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	switch strings.TrimSpace(t.ProgressionMode) {
	case ModeAuto, ModeChoice:
	default:
		return fmt.Errorf("progression_mode must be %q or %q, got %q", ModeAuto, ModeChoice, t.ProgressionMode)
	}
	if t.OfferSize <= 0 {
		return fmt.Errorf("offer_size must be > 0")
	}
	if t.Player.MaxHP <= 0 {
		return fmt.Errorf("player.max_hp must be > 0")
	}
	if t.Player.Width <= 0 || t.Player.Height <= 0 {
		return fmt.Errorf("player width/height must be > 0")
	}
	if t.Grapple.MinRope <= 0 || t.Grapple.MinRope >= t.Grapple.Range {
		return fmt.Errorf("grapple.min_rope must be in (0, grapple.range)")
	}
	if t.Grapple.AimConeDeg <= 0 || t.Grapple.AimConeDeg > 180 {
		return fmt.Errorf("grapple.aim_cone_deg must be in (0, 180]")
	}
	if t.Gimmicks.DecoyWarnMs > t.Gimmicks.DecoyDetachMs {
		return fmt.Errorf("gimmicks.decoy_warn_ms must be <= decoy_detach_ms")
	}
	if t.Gimmicks.BreakWarnMs > t.Gimmicks.BreakCollapseMs {
		return fmt.Errorf("gimmicks.break_warn_ms must be <= break_collapse_ms")
	}
	prev := t.Fall.Threshold
	for i, b := range t.Fall.Bands {
		if b.To <= b.From {
			return fmt.Errorf("fall.bands[%d] to must be > from", i)
		}
		if b.From < prev {
			return fmt.Errorf("fall.bands[%d] overlaps the previous band or threshold", i)
		}
		if b.Max < b.Min {
			return fmt.Errorf("fall.bands[%d] max must be >= min", i)
		}
		if i > 0 && b.Min < t.Fall.Bands[i-1].Max {
			return fmt.Errorf("fall.bands[%d] min is below the previous band max", i)
		}
		prev = b.To
	}
	return nil
}

// TickMs is the fixed duration of one simulation tick in milliseconds.
func (t Tuning) TickMs() float64 { return 1000 / float64(t.TickRateHz) }
