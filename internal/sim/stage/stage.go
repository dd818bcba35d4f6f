package stage

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/physics"
)

//go:embed stage.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("stage.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

const (
	PickupFood   = "food"
	PickupEvolve = "evolve"
)

type Platform struct {
	physics.Rect
	Friction float64 `json:"friction,omitempty"`
}

type Hook struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Decoy bool    `json:"decoy,omitempty"`
}

func (h Hook) Pos() physics.Vec2 { return physics.Vec2{X: h.X, Y: h.Y} }

type Pickup struct {
	X        float64               `json:"x"`
	Y        float64               `json:"y"`
	Kind     string                `json:"kind"`
	Resource catalogs.ResourceType `json:"resource,omitempty"`
	Amount   int                   `json:"amount,omitempty"`
}

func (p Pickup) Pos() physics.Vec2 { return physics.Vec2{X: p.X, Y: p.Y} }

type Breakable struct {
	physics.Rect
	Respawn bool `json:"respawn,omitempty"`
}

type Wind struct {
	physics.Rect
	PeriodMs float64 `json:"period_ms"`
	MaxForce float64 `json:"max_force"`
}

// Stage is the static layout of one climb. It is never mutated after Load.
type Stage struct {
	Name   string       `json:"name"`
	Bounds physics.Rect `json:"bounds"`
	Spawn  physics.Vec2 `json:"spawn"`

	Platforms  []Platform     `json:"platforms"`
	Walls      []physics.Rect `json:"walls,omitempty"`
	Hooks      []Hook         `json:"hooks,omitempty"`
	Pickups    []Pickup       `json:"pickups,omitempty"`
	Breakables []Breakable    `json:"breakables,omitempty"`
	Winds      []Wind         `json:"winds,omitempty"`
	Recovery   []physics.Rect `json:"recovery,omitempty"`
	Goals      []physics.Rect `json:"goals"`
	DeathZones []physics.Rect `json:"death_zones,omitempty"`

	Digest string `json:"-"`
}

func Load(path string) (*Stage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Parse validates raw against the stage schema and decodes it.
func Parse(raw []byte) (*Stage, error) {
	sch, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compile stage schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, err
	}
	var s Stage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if !s.Bounds.Contains(s.Spawn) {
		return nil, fmt.Errorf("spawn (%.0f,%.0f) outside bounds", s.Spawn.X, s.Spawn.Y)
	}
	sum := sha256.Sum256(raw)
	s.Digest = hex.EncodeToString(sum[:])
	return &s, nil
}

// FoodTotal sums the food pickups of r.
func (s *Stage) FoodTotal(r catalogs.ResourceType) int {
	n := 0
	for _, p := range s.Pickups {
		if p.Kind == PickupFood && p.Resource == r {
			n += p.Amount
		}
	}
	return n
}
