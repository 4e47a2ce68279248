package vacate

// MobileType is the movement class a cell is queried for.
type MobileType uint8

const (
	MobileLand MobileType = iota
	MobileSea
	MobileAir
)

func (m MobileType) String() string {
	switch m {
	case MobileLand:
		return "LAND"
	case MobileSea:
		return "SEA"
	case MobileAir:
		return "AIR"
	default:
		return "UNKNOWN"
	}
}

type Action uint8

const (
	ActionIdle Action = iota
	ActionMove
	ActionBusy // attacking, building, anything that is neither idle nor walking
)

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Status is the activity snapshot of a unit as seen by the vacate planner.
type Status struct {
	Action Action
	Pos    Pos
	// Goal is the destination of the unit's current move order; equal to Pos when idle.
	Goal Pos
	// Ordered is set while a player-issued action is pending.
	Ordered bool
	// AIBusy is set for AI-controlled units with an active AI action.
	AIBusy bool
}

// Unit is the capability set the planner needs from a mobile entity.
type Unit interface {
	Handle() int
	Nation() int
	MobileType() MobileType
	Status() Status
	MoveTo(x, y int)
}

// Terrain answers per-cell queries against the world map.
type Terrain interface {
	Size() (width, height int)
	Accessible(x, y int, mt MobileType) bool
	Occupant(x, y int, mt MobileType) (handle int, ok bool)
}

// Registry resolves unit handles.
type Registry interface {
	Unit(handle int) (Unit, bool)
}

// Rand is a uniform integer source; Intn(n) returns a value in [0,n).
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Recorder receives every completed vacate result.
type Recorder interface {
	RecordVacate(res Result)
}

type RecorderFunc func(res Result)

func (f RecorderFunc) RecordVacate(res Result) { f(res) }
