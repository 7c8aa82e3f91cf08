package naff

import (
	"fmt"
	"net/url"
	"strings"
)

// Route describes one REST endpoint invocation: the HTTP method, the path
// template with {name} placeholders, and the resolved parameters. The
// channel and guild parameters double as the rate-limit scope.
type Route struct {
	// Method is the HTTP method.
	Method string
	// Path is the raw path template, e.g. "/channels/{channel_id}/messages".
	// The raw form, not the resolved one, takes part in the bucket key so
	// that all invocations of one endpoint shape share a bucket.
	Path string
	// ChannelID and GuildID are the rate-limit scoping IDs, taken from the
	// parameters of the same name when present.
	ChannelID Snowflake
	GuildID   Snowflake

	params map[string]string
}

// NewRoute builds a route from a method, a path template, and its
// parameters. Parameter values may be snowflakes, strings, integers, or
// entities (IDer); string values are URL-escaped when substituted.
func NewRoute(method, path string, params map[string]any) *Route {
	r := &Route{Method: method, Path: path}
	if len(params) == 0 {
		return r
	}
	r.params = make(map[string]string, len(params))
	for name, value := range params {
		r.params[name] = formatRouteParam(value)
	}
	if id, err := ParseSnowflake(r.params["channel_id"]); err == nil {
		r.ChannelID = id
	}
	if id, err := ParseSnowflake(r.params["guild_id"]); err == nil {
		r.GuildID = id
	}
	return r
}

func formatRouteParam(value any) string {
	switch v := value.(type) {
	case Snowflake:
		return v.String()
	case IDer:
		return v.SnowflakeID().String()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// BucketKey identifies the rate-limit bucket this route belongs to:
// the method plus the channel scope, guild scope, and raw path template.
// Two routes with the same shape but different channels get distinct
// buckets; two invocations on the same channel share one.
func (r *Route) BucketKey() string {
	return r.Method + "::" + r.ChannelID.String() + ":" + r.GuildID.String() + ":" + r.Path
}

// URL resolves the template against the given API base URL.
func (r *Route) URL(base string) string {
	resolved := r.Path
	for name, value := range r.params {
		resolved = strings.ReplaceAll(resolved, "{"+name+"}", url.PathEscape(value))
	}
	return base + resolved
}
