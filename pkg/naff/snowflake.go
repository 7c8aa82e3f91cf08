package naff

import (
	"bytes"
	"fmt"
	"math/bits"
	"strconv"
	"time"
)

// snowflakeEpochMS is the platform epoch (first second of 2015) in Unix
// milliseconds. Snowflake timestamps count from it.
const snowflakeEpochMS = 1420070400000

// Snowflake is a platform-assigned 64-bit entity identifier. The wire format
// is a decimal string; older payloads occasionally carry bare numbers, so
// decoding accepts both.
type Snowflake uint64

// IDer is implemented by every entity that carries a primary Snowflake,
// letting ParseSnowflake accept entity values wherever an ID is expected.
type IDer interface {
	SnowflakeID() Snowflake
}

// ParseSnowflake normalizes the interchangeable ID forms (Snowflake, decimal
// string, integer, or an entity implementing IDer) into a validated
// Snowflake. Valid snowflakes occupy 22 to 64 bits; anything outside that
// range wraps ErrInvalidSnowflake.
func ParseSnowflake(value any) (Snowflake, error) {
	var id Snowflake
	switch v := value.(type) {
	case Snowflake:
		id = v
	case IDer:
		id = v.SnowflakeID()
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a decimal id", ErrInvalidSnowflake, v)
		}
		id = Snowflake(parsed)
	case uint64:
		id = Snowflake(v)
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative id %d", ErrInvalidSnowflake, v)
		}
		id = Snowflake(v)
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative id %d", ErrInvalidSnowflake, v)
		}
		id = Snowflake(v)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidSnowflake, value)
	}

	if length := bits.Len64(uint64(id)); length < 22 {
		return 0, fmt.Errorf("%w: %d occupies %d bits, want 22..64", ErrInvalidSnowflake, id, length)
	}
	return id, nil
}

// Time recovers the creation timestamp embedded in the snowflake.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(s>>22) + snowflakeEpochMS)
}

// String renders the snowflake in its wire form.
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON emits the decimal-string wire form.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts a decimal string, a bare number, or null (which
// leaves the snowflake zero, meaning absent).
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	parsed, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("decode snowflake: %w", err)
	}
	*s = Snowflake(parsed)
	return nil
}

// MemberKey identifies a guild member: members are scoped to their guild and
// the same user appears once per guild they belong to.
type MemberKey struct {
	GuildID Snowflake
	UserID  Snowflake
}

// MessageKey identifies a message within its channel.
type MessageKey struct {
	ChannelID Snowflake
	MessageID Snowflake
}
