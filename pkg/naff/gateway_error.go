package naff

import (
	"errors"
	"fmt"
)

// Gateway close codes with a defined meaning. 4000 through 4014 are
// platform-assigned; 1000 is a normal websocket closure.
const (
	CloseNormal             = 1000
	CloseUnknownError       = 4000
	CloseUnknownOpcode      = 4001
	CloseDecodeError        = 4002
	CloseNotAuthenticated   = 4003
	CloseAuthenticationFail = 4004
	CloseAlreadyAuth        = 4005
	CloseInvalidSeq         = 4007
	CloseRateLimited        = 4008
	CloseSessionTimedOut    = 4009
	CloseInvalidShard       = 4010
	CloseShardingRequired   = 4011
	CloseInvalidAPIVersion  = 4012
	CloseInvalidIntents     = 4013
	CloseDisallowedIntents  = 4014
)

var closeReasons = map[int]string{
	CloseNormal:             "Normal Closure",
	CloseUnknownError:       "Unknown Error",
	CloseUnknownOpcode:      "Unknown OpCode",
	CloseDecodeError:        "Decode Error",
	CloseNotAuthenticated:   "Not Authenticated",
	CloseAuthenticationFail: "Authentication Failed",
	CloseAlreadyAuth:        "Already Authenticated",
	CloseInvalidSeq:         "Invalid Sequence",
	CloseRateLimited:        "Rate Limited",
	CloseSessionTimedOut:    "Session Timed Out",
	CloseInvalidShard:       "Invalid Shard",
	CloseShardingRequired:   "Sharding Required",
	CloseInvalidAPIVersion:  "Invalid API Version",
	CloseInvalidIntents:     "Invalid Intents",
	CloseDisallowedIntents:  "Disallowed Intents",
}

// CloseReason decodes a gateway close code into its documented meaning.
func CloseReason(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return "Unknown Close Code"
}

// WebSocketClosed reports that the gateway socket closed with a code. Most
// codes are transient and the connection supervisor reconnects through
// them; the Fatal ones mean the operator must fix configuration first.
type WebSocketClosed struct {
	Code int
}

// Error returns the code with its decoded reason.
func (e *WebSocketClosed) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("naff: websocket closed: code %d: %s", e.Code, CloseReason(e.Code))
}

// Fatal reports whether the close code signals a configuration error that
// reconnecting cannot heal: a bad token, a bot too large for one
// connection, or intents the account is not allowed to declare.
func (e *WebSocketClosed) Fatal() bool {
	switch e.Code {
	case CloseAuthenticationFail, CloseShardingRequired, CloseInvalidIntents, CloseDisallowedIntents:
		return true
	default:
		return false
	}
}

// AsWebSocketClosed extracts a WebSocketClosed from a wrapped error chain.
func AsWebSocketClosed(err error) (*WebSocketClosed, bool) {
	var closed *WebSocketClosed
	if errors.As(err, &closed) {
		return closed, true
	}
	return nil, false
}

var _ error = (*WebSocketClosed)(nil)
