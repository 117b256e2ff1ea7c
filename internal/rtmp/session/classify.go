package session

import "strings"

// classifyServerError maps an onStatus/_error Info object's "description" and
// "code" strings to a DisconnectReason. Matching is a case-insensitive prefix
// check, and description takes precedence over code: servers are free to
// reuse a generic code (e.g. "NetConnection.Connect.Rejected") across
// distinct failure descriptions, so the human-readable description is the
// more specific signal when both are present. Unrecognized codes fall back
// to ReasonUnknown so callers always have a reason to log even when a server
// emits a vendor-specific status.
func classifyServerError(code, description string) DisconnectReason {
	lowerDesc := strings.ToLower(description)
	lowerCode := strings.ToLower(code)

	switch {
	case strings.HasPrefix(lowerDesc, "stream name is already in use"):
		return ReasonAlreadyInUse
	case strings.HasPrefix(lowerCode, "netconnection.connect.rejected"):
		return ReasonRefused
	case code == "" && description == "":
		return ReasonUnknown
	case strings.Contains(lowerCode, "invalidapp"):
		return ReasonRefused
	case strings.Contains(lowerCode, "alreadyinuse"), strings.Contains(lowerCode, "badname"):
		return ReasonAlreadyInUse
	case strings.Contains(lowerCode, "connectionclosed"), strings.Contains(lowerCode, "closed"):
		return ReasonServerRequest
	case strings.Contains(lowerCode, "networkchange"), strings.Contains(lowerCode, "idletimeout"), strings.Contains(lowerCode, "timeout"):
		return ReasonTimeout
	case strings.Contains(lowerCode, "failed"):
		return ReasonNetworkError
	default:
		return ReasonUnknown
	}
}
