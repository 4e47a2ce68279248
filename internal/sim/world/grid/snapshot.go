package grid

import (
	"fmt"
	"time"

	"clearsite.ai/internal/persistence/snapshot"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

// ExportSnapshot captures tiles and units, including units still walking.
func (w *World) ExportSnapshot(label string, at time.Time) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Label:   label,
			SavedAt: at.UTC(),
			Digest:  w.Digest(),
		},
		Width:    w.width,
		Height:   w.height,
		TilesRLE: w.TilesRLE(),
	}
	for _, u := range w.Units() {
		snap.Units = append(snap.Units, snapshot.UnitV1{
			Handle:     u.handle,
			Nation:     u.nation,
			MobileType: uint8(u.mt),
			Action:     uint8(u.action),
			Pos:        [2]int{u.pos.X, u.pos.Y},
			Goal:       [2]int{u.goal.X, u.goal.Y},
			Ordered:    u.ordered,
			AIBusy:     u.aiBusy,
			Orders:     u.Orders,
		})
	}
	return snap
}

// FromSnapshot rebuilds a world and checks it against the recorded digest.
func FromSnapshot(snap snapshot.SnapshotV1) (*World, error) {
	if snap.Width < 1 || snap.Height < 1 {
		return nil, fmt.Errorf("grid: snapshot: bad size %dx%d", snap.Width, snap.Height)
	}
	w := New(snap.Width, snap.Height)
	if err := w.SetTilesRLE(snap.TilesRLE); err != nil {
		return nil, err
	}
	for _, su := range snap.Units {
		if su.MobileType > uint8(vacate.MobileAir) {
			return nil, fmt.Errorf("grid: snapshot: unit %d: mobile type %d", su.Handle, su.MobileType)
		}
		goal := vacate.Pos{X: su.Goal[0], Y: su.Goal[1]}
		u, err := w.Spawn(UnitSpec{
			Handle:     su.Handle,
			Nation:     su.Nation,
			MobileType: vacate.MobileType(su.MobileType),
			X:          su.Pos[0],
			Y:          su.Pos[1],
			Action:     vacate.Action(su.Action),
			Goal:       &goal,
			Ordered:    su.Ordered,
			AIBusy:     su.AIBusy,
		})
		if err != nil {
			return nil, fmt.Errorf("grid: snapshot: unit %d: %w", su.Handle, err)
		}
		u.Orders = su.Orders
	}
	if snap.Header.Digest != "" && w.Digest() != snap.Header.Digest {
		return nil, fmt.Errorf("grid: snapshot: digest mismatch")
	}
	return w, nil
}
