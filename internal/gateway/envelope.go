package gateway

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// opcode identifies gateway frame kinds on the wire.
type opcode int

const (
	opDispatch       opcode = 0
	opHeartbeat      opcode = 1
	opIdentify       opcode = 2
	opPresenceUpdate opcode = 3
	opResume         opcode = 6
	opReconnect      opcode = 7
	opInvalidSession opcode = 9
	opHello          opcode = 10
	opHeartbeatACK   opcode = 11
)

const (
	// libraryName is advertised in the identify connection properties.
	libraryName = "naff"

	// defaultLargeThreshold is the member count past which the platform
	// stops sending offline members in guild payloads.
	defaultLargeThreshold = 250
)

// frame is an outbound gateway envelope.
type frame struct {
	Op opcode `json:"op"`
	D  any    `json:"d"`
}

type identifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type identifyData struct {
	Token          string             `json:"token"`
	Intents        naff.Intents       `json:"intents"`
	LargeThreshold int                `json:"large_threshold"`
	Properties     identifyProperties `json:"properties"`
	Presence       *naff.Presence     `json:"presence,omitempty"`
	Compress       bool               `json:"compress"`
}

type resumeData struct {
	Token     string `json:"token"`
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
}

// inbound is one decoded gateway envelope. data holds the raw d node;
// event is the dispatch type for opDispatch frames.
type inbound struct {
	op     opcode
	seq    int64
	hasSeq bool
	event  string
	data   gjson.Result
}

// parseInbound decodes an envelope. A frame that is not valid JSON or
// lacks an opcode is malformed; the stream is strictly ordered, so the
// caller drops the connection instead of skipping the frame.
func parseInbound(payload []byte) (inbound, error) {
	if !gjson.ValidBytes(payload) {
		return inbound{}, fmt.Errorf("malformed gateway frame")
	}

	doc := gjson.ParseBytes(payload)
	opRef := doc.Get("op")
	if !opRef.Exists() {
		return inbound{}, fmt.Errorf("gateway frame missing opcode")
	}

	msg := inbound{
		op:    opcode(opRef.Int()),
		event: doc.Get("t").String(),
		data:  doc.Get("d"),
	}
	if seqRef := doc.Get("s"); seqRef.Type == gjson.Number {
		msg.seq = seqRef.Int()
		msg.hasSeq = true
	}

	return msg, nil
}

// helloInterval extracts the heartbeat interval from a HELLO payload,
// converting the wire's milliseconds into a duration.
func helloInterval(data gjson.Result) (time.Duration, error) {
	ms := data.Get("heartbeat_interval")
	if ms.Type != gjson.Number {
		return 0, fmt.Errorf("hello frame missing heartbeat_interval")
	}

	return time.Duration(ms.Float() * float64(time.Millisecond)), nil
}
