package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ResourceType string

const (
	ResourceDust ResourceType = "dust"
	ResourceSap  ResourceType = "sap"
)

// ResourceTypes is the closed set of branches, in display order.
var ResourceTypes = []ResourceType{ResourceDust, ResourceSap}

func (r ResourceType) Valid() bool {
	for _, t := range ResourceTypes {
		if t == r {
			return true
		}
	}
	return false
}

// Effect keys understood by the stats resolver.
const (
	EffectGrapple       = "grapple"
	EffectGrappleRange  = "grapple_range"
	EffectReelSpeed     = "reel_speed"
	EffectAirControl    = "air_control"
	EffectMaxHP         = "max_hp"
	EffectFallDamageMul = "fall_damage_mul"
	EffectMomentum      = "momentum_bonus"
	EffectStickyWall    = "sticky_wall"
	EffectFriction      = "friction"
	EffectStretch       = "stretch_factor"
	EffectBodyTier      = "body_tier"
	EffectJump          = "jump"
	EffectChargedJump   = "charged_jump"
)

var knownEffects = map[string]bool{
	EffectGrapple:       true,
	EffectGrappleRange:  true,
	EffectReelSpeed:     true,
	EffectAirControl:    true,
	EffectMaxHP:         true,
	EffectFallDamageMul: true,
	EffectMomentum:      true,
	EffectStickyWall:    true,
	EffectFriction:      true,
	EffectStretch:       true,
	EffectBodyTier:      true,
	EffectJump:          true,
	EffectChargedJump:   true,
}

const (
	ModelChain = "chain"
	ModelTree  = "tree"
)

type Node struct {
	ID          string             `json:"id"`
	Branch      ResourceType       `json:"branch"`
	Tier        int                `json:"tier"`
	Threshold   int                `json:"threshold"`
	Requires    string             `json:"requires,omitempty"`
	Effects     map[string]float64 `json:"effects"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
}

type Evolution struct {
	Model string `json:"model"`
	Nodes []Node `json:"nodes"`

	ByID     map[string]Node         `json:"-"`
	ByBranch map[ResourceType][]Node `json:"-"`
	Digest   string                  `json:"-"`
}

func LoadEvolution(path string) (*Evolution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	var ev Evolution
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := ev.index(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ev.Digest = sha256Hex(raw)
	return &ev, nil
}

// NewEvolution builds an indexed catalog from in-memory nodes.
func NewEvolution(model string, nodes []Node) (*Evolution, error) {
	ev := &Evolution{Model: model, Nodes: nodes}
	if err := ev.index(); err != nil {
		return nil, err
	}
	b, _ := json.Marshal(ev)
	ev.Digest = sha256Hex(b)
	return ev, nil
}

func (e *Evolution) index() error {
	if e.Model == "" {
		e.Model = ModelChain
	}
	if e.Model != ModelChain && e.Model != ModelTree {
		return fmt.Errorf("unknown model %q", e.Model)
	}
	e.ByID = make(map[string]Node, len(e.Nodes))
	e.ByBranch = map[ResourceType][]Node{}
	for _, n := range e.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := e.ByID[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		if !n.Branch.Valid() {
			return fmt.Errorf("node %s: unknown branch %q", n.ID, n.Branch)
		}
		if n.Tier < 1 {
			return fmt.Errorf("node %s: tier must be >= 1", n.ID)
		}
		if n.Threshold < 0 {
			return fmt.Errorf("node %s: threshold must be >= 0", n.ID)
		}
		for k := range n.Effects {
			if !knownEffects[k] {
				return fmt.Errorf("node %s: unknown effect %q", n.ID, k)
			}
		}
		e.ByID[n.ID] = n
	}
	for _, n := range e.Nodes {
		if n.Requires == "" {
			continue
		}
		parent, ok := e.ByID[n.Requires]
		if !ok {
			return fmt.Errorf("node %s: requires unknown node %s", n.ID, n.Requires)
		}
		// Parents sit on a strictly lower tier, which also rules out cycles.
		if parent.Tier >= n.Tier {
			return fmt.Errorf("node %s: requires %s on tier %d, want < %d", n.ID, parent.ID, parent.Tier, n.Tier)
		}
		if e.Model == ModelChain && parent.Branch != n.Branch {
			return fmt.Errorf("node %s: chain prerequisite %s is on branch %s", n.ID, parent.ID, parent.Branch)
		}
	}
	for _, n := range e.Nodes {
		e.ByBranch[n.Branch] = append(e.ByBranch[n.Branch], n)
	}
	for _, nodes := range e.ByBranch {
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].Tier != nodes[j].Tier {
				return nodes[i].Tier < nodes[j].Tier
			}
			return nodes[i].ID < nodes[j].ID
		})
	}
	return nil
}

func (e *Evolution) Node(id string) (Node, bool) {
	n, ok := e.ByID[id]
	return n, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
