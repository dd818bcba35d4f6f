package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Role            string `json:"role"`
	Name            string `json:"name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Role            string      `json:"role"`
	Params          WorldParams `json:"params"`
	Digests         Digests     `json:"digests"`
}

type WorldParams struct {
	TickRateHz      int    `json:"tick_rate_hz"`
	ProgressionMode string `json:"progression_mode"`
	Stage           string `json:"stage"`
	Seed            int64  `json:"seed"`
}

type Digests struct {
	Evolution string `json:"evolution"`
	Stage     string `json:"stage"`
}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// INPUT (client -> server). Edge fields fire once; Axis, Reel and Charge are held and
// the latest value in a tick wins.
type InputMsg struct {
	Type string `json:"type,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`

	Fire      *Vec `json:"fire,omitempty"`
	Release   bool `json:"release,omitempty"`
	Secondary bool `json:"secondary,omitempty"`
	Boost     bool `json:"boost,omitempty"`
	Jump      bool `json:"jump,omitempty"`
	Restart   bool `json:"restart,omitempty"`

	Axis   float64 `json:"axis,omitempty"`
	Reel   int     `json:"reel,omitempty"`
	Charge bool    `json:"charge,omitempty"`

	Choose string `json:"choose,omitempty"`
	Skip   bool   `json:"skip,omitempty"`
}

// Merge folds a later message of the same tick into m.
func (m InputMsg) Merge(next InputMsg) InputMsg {
	if next.Fire != nil {
		m.Fire = next.Fire
	}
	m.Release = m.Release || next.Release
	m.Secondary = m.Secondary || next.Secondary
	m.Boost = m.Boost || next.Boost
	m.Jump = m.Jump || next.Jump
	m.Restart = m.Restart || next.Restart
	m.Skip = m.Skip || next.Skip
	if next.Choose != "" {
		m.Choose = next.Choose
	}
	m.Axis = next.Axis
	m.Reel = next.Reel
	m.Charge = next.Charge
	if next.Seq > m.Seq {
		m.Seq = next.Seq
	}
	return m
}

// FRAME (server -> client), once per tick.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	TimeMs          int64  `json:"time_ms"`
	Status          string `json:"status"`
	Paused          bool   `json:"paused,omitempty"`

	Player  PlayerFrame   `json:"player"`
	Grapple *GrappleFrame `json:"grapple,omitempty"`

	Pools     map[string]int         `json:"pools"`
	Active    []string               `json:"active"`
	Offer     []OfferNode            `json:"offer,omitempty"`
	Collected []int                  `json:"collected,omitempty"`
	Gimmicks  map[string]GimmickView `json:"gimmicks,omitempty"`

	Events []Event `json:"events"`
	Digest string  `json:"digest"`
}

type PlayerFrame struct {
	Pos      Vec     `json:"pos"`
	Vel      Vec     `json:"vel"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	HP       int     `json:"hp"`
	MaxHP    int     `json:"max_hp"`
	Grounded bool    `json:"grounded"`
	BodyTier int     `json:"body_tier"`
	Charge   float64 `json:"charge,omitempty"`
}

type GrappleFrame struct {
	Hook   int     `json:"hook"`
	Anchor Vec     `json:"anchor"`
	Length float64 `json:"length"`
}

type OfferNode struct {
	ID          string `json:"id"`
	Branch      string `json:"branch"`
	Tier        int    `json:"tier"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type GimmickView struct {
	State   string  `json:"state"`
	Urgency float64 `json:"urgency,omitempty"`
	Alpha   float64 `json:"alpha"`
}

// Event is one tick-scoped notification; every event carries "t" and "type".
type Event map[string]interface{}
