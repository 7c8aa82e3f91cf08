package naff

import "errors"

var (
	// ErrNotCached indicates a cache lookup miss that fallback did not fill,
	// either because fallback was disabled or because no fetcher is wired.
	ErrNotCached = errors.New("naff: entity not cached")
	// ErrInvalidToken indicates the platform rejected the configured bot token.
	ErrInvalidToken = errors.New("naff: invalid token passed")
	// ErrInvalidSnowflake indicates an ID outside the valid snowflake range.
	ErrInvalidSnowflake = errors.New("naff: invalid snowflake")
	// ErrGatewayNotFound indicates the REST discovery of the gateway URL failed.
	ErrGatewayNotFound = errors.New("naff: unable to find the gateway endpoint")
	// ErrNotConnected indicates a gateway operation while no connection is
	// active.
	ErrNotConnected = errors.New("naff: gateway not connected")
	// ErrClosed indicates an operation on a client that is already shut down.
	ErrClosed = errors.New("naff: client closed")
)
