package protocol

import "clearsite.ai/internal/sim/world/logic/vacate"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	MapWidth        int    `json:"map_width"`
	MapHeight       int    `json:"map_height"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// STATE: request from the client (empty body), reply from the server.
type StateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RequestID       string      `json:"request_id,omitempty"`
	MapWidth        int         `json:"map_width,omitempty"`
	MapHeight       int         `json:"map_height,omitempty"`
	TilesRLE        string      `json:"tiles_rle,omitempty"`
	Digest          string      `json:"digest,omitempty"`
	Units           []UnitState `json:"units,omitempty"`
}

type UnitState struct {
	Handle     int        `json:"handle"`
	Nation     int        `json:"nation"`
	MobileType string     `json:"type"`
	Pos        vacate.Pos `json:"pos"`
	Goal       vacate.Pos `json:"goal"`
	Moving     bool       `json:"moving,omitempty"`
}

// SPAWN (client -> server): places units on the hosted map.
type SpawnMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RequestID       string      `json:"request_id,omitempty"`
	Units           []SpawnUnit `json:"units"`
}

type SpawnUnit struct {
	Handle  int    `json:"handle"`
	Nation  int    `json:"nation"`
	Type    string `json:"type,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Ordered bool   `json:"ordered,omitempty"`
	AIBusy  bool   `json:"ai_busy,omitempty"`
}

// SETTLE (client -> server): lets queued moves land. Answered with STATE.
type SettleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
}

// VACATE (client -> server)
type VacateMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	RequestID       string           `json:"request_id,omitempty"`
	Footprint       vacate.Footprint `json:"footprint"`
	Nation          int              `json:"nation"`
	Builder         int              `json:"builder"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	RequestID       string        `json:"request_id,omitempty"`
	RunID           string        `json:"run_id,omitempty"`
	Result          vacate.Result `json:"result"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(requestID, code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		RequestID:       requestID,
		Code:            code,
		Message:         message,
	}
}
