package protocol

// Error codes carried by ErrorMsg.Code.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST" // malformed or unknown message

	ErrBadRequest = "E_BAD_REQUEST" // footprint or nation rejected by the planner
	ErrNotFound   = "E_NOT_FOUND"   // builder handle not on the map
	ErrTooLarge   = "E_TOO_LARGE"   // scan region over the configured cap
	ErrConflict   = "E_CONFLICT"    // spawn clashes with the map or a live unit
	ErrInternal   = "E_INTERNAL"
)

var codeText = map[string]string{
	ErrProtoBadRequest: "bad message",
	ErrBadRequest:      "bad vacate arguments",
	ErrNotFound:        "builder not found",
	ErrTooLarge:        "scan region too large",
	ErrConflict:        "spawn rejected",
	ErrInternal:        "internal error",
}

// IsKnownCode reports whether code is empty or one of the codes above.
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := codeText[code]
	return ok
}

// CodeText is a short human label for code, or code itself when unknown.
func CodeText(code string) string {
	if s, ok := codeText[code]; ok {
		return s
	}
	return code
}
