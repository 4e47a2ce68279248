package grid

import "clearsite.ai/internal/sim/world/logic/vacate"

type Unit struct {
	handle  int
	nation  int
	mt      vacate.MobileType
	action  vacate.Action
	pos     vacate.Pos
	goal    vacate.Pos
	ordered bool
	aiBusy  bool

	// Move orders received so far.
	Orders int
}

func (u *Unit) Handle() int                   { return u.handle }
func (u *Unit) Nation() int                   { return u.nation }
func (u *Unit) MobileType() vacate.MobileType { return u.mt }
func (u *Unit) Pos() vacate.Pos               { return u.pos }
func (u *Unit) Goal() vacate.Pos              { return u.goal }

func (u *Unit) Status() vacate.Status {
	return vacate.Status{
		Action:  u.action,
		Pos:     u.pos,
		Goal:    u.goal,
		Ordered: u.ordered,
		AIBusy:  u.aiBusy,
	}
}

// MoveTo queues a walk to (x,y). Ordering a unit onto its own cell stops it.
func (u *Unit) MoveTo(x, y int) {
	u.goal = vacate.Pos{X: x, Y: y}
	u.Orders++
	if u.goal == u.pos {
		u.action = vacate.ActionIdle
		return
	}
	u.action = vacate.ActionMove
}

func (u *Unit) SetAction(a vacate.Action) { u.action = a }
func (u *Unit) SetOrdered(v bool)         { u.ordered = v }
func (u *Unit) SetAIBusy(v bool)          { u.aiBusy = v }
