package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"evoclimb.io/internal/sim/catalogs"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything a replay must reproduce. Kinematics are rounded to 1/1000 px
// so the digest survives float formatting through the tick log.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, w.simTick)
	digestWriteU64(h, &tmp, uint64(w.run))
	h.Write([]byte(w.status))
	h.Write([]byte{boolByte(w.paused), boolByte(w.goal)})

	digestWriteI64(h, &tmp, int64(w.hp))
	digestWriteI64(h, &tmp, int64(w.maxHP))
	digestWriteI64(h, &tmp, int64(w.bodyTier))
	pos := w.phys.Position(w.body)
	vel := w.phys.Velocity(w.body)
	for _, v := range []float64{pos.X, pos.Y, vel.X, vel.Y} {
		digestWriteI64(h, &tmp, milli(v))
	}
	h.Write([]byte{boolByte(w.ground.Grounded())})
	digestWriteI64(h, &tmp, milli(w.ground.Peak()))

	for _, r := range catalogs.ResourceTypes {
		h.Write([]byte(r))
		digestWriteI64(h, &tmp, int64(w.engine.Pool(r)))
	}
	for _, id := range w.engine.Active() {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	for _, id := range w.engine.Pending() {
		h.Write([]byte(id))
		h.Write([]byte{1})
	}

	if l, ok := w.grapple.Link(); ok {
		h.Write([]byte{1})
		digestWriteI64(h, &tmp, int64(l.Hook))
		digestWriteI64(h, &tmp, milli(l.Length))
	} else {
		h.Write([]byte{0})
	}

	vis := w.gimmicks.Visuals()
	ids := make([]string, 0, len(vis))
	for id := range vis {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := vis[id]
		h.Write([]byte(id))
		h.Write([]byte(v.State))
		digestWriteI64(h, &tmp, milli(v.Urgency))
		digestWriteI64(h, &tmp, milli(v.Alpha))
	}

	for _, p := range w.pickups {
		h.Write([]byte{boolByte(p.collected)})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func milli(v float64) int64 { return int64(math.Round(v * 1000)) }

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
