package stats

import (
	"path/filepath"
	"testing"

	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/tuning"
)

func resolver(t *testing.T) (*Resolver, tuning.Tuning) {
	t.Helper()
	cat, err := catalogs.LoadEvolution(filepath.Join("..", "..", "..", "configs", "evolution_chain.json"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	tu := tuning.Defaults()
	return NewResolver(tu, cat), tu
}

func TestBaseStatsWithoutEvolution(t *testing.T) {
	r, tu := resolver(t)
	s := r.Resolve(nil)
	if s.CanGrapple() || s.GrappleRange != 0 {
		t.Fatalf("grapple must be locked: %+v", s)
	}
	if s.MaxHP != tu.Player.MaxHP || s.FallDamageMul != 1 || s.BodyTier != 1 || !s.Jump || s.ChargedJump {
		t.Fatalf("unexpected base stats: %+v", s)
	}
}

func TestEffectsAccumulate(t *testing.T) {
	r, tu := resolver(t)
	s := r.Resolve([]string{"hook_gland", "long_tendril", "thick_hide", "sticky_pads"})
	if s.GrappleRange != tu.Grapple.Range+120 {
		t.Fatalf("range=%f", s.GrappleRange)
	}
	if s.ReelSpeed != tu.Grapple.ReelSpeed+2 {
		t.Fatalf("reel=%f", s.ReelSpeed)
	}
	if s.MaxHP != 150 || s.FallDamageMul != 0.7 {
		t.Fatalf("hide: hp=%d mul=%f", s.MaxHP, s.FallDamageMul)
	}
	if !s.StickyWall || s.Friction != tu.Player.Friction+0.4 {
		t.Fatalf("pads: %+v", s)
	}
}

func TestRangeBonusNeedsGrapple(t *testing.T) {
	r, _ := resolver(t)
	if s := r.Resolve([]string{"long_tendril"}); s.CanGrapple() {
		t.Fatalf("range bonus alone must not enable the grapple: %+v", s)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r, _ := resolver(t)
	active := []string{"hook_gland", "long_tendril", "stretch_body", "unknown"}
	a, b := r.Resolve(active), r.Resolve(active)
	if a != b {
		t.Fatalf("resolve not idempotent: %+v vs %+v", a, b)
	}
	if a.BodyTier != 2 || a.Stretch != 0.4 {
		t.Fatalf("stretch: %+v", a)
	}
}

func TestBodyShapeStretches(t *testing.T) {
	r, tu := resolver(t)
	w, h := r.BodyShape(r.Resolve(nil))
	if w != tu.Player.Width || h != tu.Player.Height {
		t.Fatalf("tier1 shape %fx%f", w, h)
	}
	w2, h2 := r.BodyShape(r.Resolve([]string{"hook_gland", "long_tendril", "stretch_body"}))
	if h2 <= h || w2 >= w {
		t.Fatalf("tier2 shape %fx%f", w2, h2)
	}
}
