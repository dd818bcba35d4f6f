package evolution

import (
	"sort"

	"evoclimb.io/internal/sim/catalogs"
)

// Unlock reports one node that became active.
type Unlock struct {
	Node catalogs.Node
	// Order is the 1-based position of the node in the run's unlock order.
	Order int
}

// Sink is notified after the engine state already reflects the unlock.
type Sink interface {
	Unlocked(u Unlock)
}

// Intn is the slice of *rand.Rand the offer shuffle needs.
type Intn interface {
	Intn(n int) int
}

// Engine owns the resource pool and the unlocked set for one run.
type Engine struct {
	cat  *catalogs.Evolution
	auto bool
	sink Sink

	pool     map[catalogs.ResourceType]int
	unlocked map[string]bool
	order    []string
	offer    []string
}

// New builds an engine. With auto set, Consume unlocks nodes as thresholds are met;
// otherwise unlocks only happen through Offer/Choose.
func New(cat *catalogs.Evolution, auto bool, sink Sink) *Engine {
	e := &Engine{cat: cat, auto: auto, sink: sink}
	e.Reset()
	return e
}

func (e *Engine) Catalog() *catalogs.Evolution { return e.cat }
func (e *Engine) Auto() bool                   { return e.auto }
func (e *Engine) SetSink(s Sink)               { e.sink = s }

// Consume adds amount points to the pool of r and returns the nodes it unlocked,
// lowest tier first.
func (e *Engine) Consume(r catalogs.ResourceType, amount int) []Unlock {
	if amount <= 0 || !r.Valid() {
		return nil
	}
	e.pool[r] += amount
	if !e.auto {
		return nil
	}

	var out []Unlock
	for _, n := range e.cat.ByBranch[r] {
		if e.unlocked[n.ID] {
			continue
		}
		if n.Requires != "" && !e.unlocked[n.Requires] {
			continue
		}
		if e.pool[r] < n.Threshold {
			continue
		}
		out = append(out, e.unlock(n))
	}
	e.notify(out)
	return out
}

func (e *Engine) unlock(n catalogs.Node) Unlock {
	e.unlocked[n.ID] = true
	e.order = append(e.order, n.ID)
	return Unlock{Node: n, Order: len(e.order)}
}

func (e *Engine) notify(us []Unlock) {
	if e.sink == nil {
		return
	}
	for _, u := range us {
		e.sink.Unlocked(u)
	}
}

func (e *Engine) IsActive(id string) bool { return e.unlocked[id] }

// Active returns the unlocked node ids in unlock order.
func (e *Engine) Active() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func (e *Engine) Pool(r catalogs.ResourceType) int { return e.pool[r] }

// Pools returns a copy of every branch total, including zeros.
func (e *Engine) Pools() map[catalogs.ResourceType]int {
	out := make(map[catalogs.ResourceType]int, len(catalogs.ResourceTypes))
	for _, r := range catalogs.ResourceTypes {
		out[r] = e.pool[r]
	}
	return out
}

// Available lists nodes that are not unlocked and whose parent is unlocked (or that
// have none), ordered by tier then id.
func (e *Engine) Available() []catalogs.Node {
	var out []catalogs.Node
	for _, n := range e.cat.Nodes {
		if e.available(n) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) available(n catalogs.Node) bool {
	if e.unlocked[n.ID] {
		return false
	}
	if n.Requires != "" && !e.unlocked[n.Requires] {
		return false
	}
	return e.pool[n.Branch] >= n.Threshold
}

// Offer samples up to n available nodes without replacement and remembers them as the
// pending offer. An empty result clears any pending offer.
func (e *Engine) Offer(rng Intn, n int) []catalogs.Node {
	avail := e.Available()
	for i := len(avail) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		avail[i], avail[j] = avail[j], avail[i]
	}
	if n < len(avail) {
		avail = avail[:n]
	}
	e.offer = e.offer[:0]
	for _, node := range avail {
		e.offer = append(e.offer, node.ID)
	}
	return avail
}

// Pending returns the ids of the open offer, if any.
func (e *Engine) Pending() []string {
	out := make([]string, len(e.offer))
	copy(out, e.offer)
	return out
}

// Choose unlocks id. When an offer is open id must be one of its entries; the offer is
// closed on success.
func (e *Engine) Choose(id string) (Unlock, bool) {
	n, ok := e.cat.Node(id)
	if !ok || !e.available(n) {
		return Unlock{}, false
	}
	if len(e.offer) > 0 && !contains(e.offer, id) {
		return Unlock{}, false
	}
	u := e.unlock(n)
	e.offer = e.offer[:0]
	e.notify([]Unlock{u})
	return u, true
}

// Skip closes the open offer without unlocking anything.
func (e *Engine) Skip() { e.offer = e.offer[:0] }

func (e *Engine) Reset() {
	e.pool = map[catalogs.ResourceType]int{}
	e.unlocked = map[string]bool{}
	e.order = nil
	e.offer = nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
