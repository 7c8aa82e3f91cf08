package rest

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// errorFromResponse maps a non-success status to the typed error for it.
// The response body, when present, carries a JSON error document with a
// numeric code, a message, and an optional per-field errors tree; all three
// are folded into the returned error.
func errorFromResponse(status int, route *naff.Route, payload []byte) error {
	base := &naff.HTTPError{
		Status: status,
		Method: route.Method,
		Path:   route.Path,
	}
	if len(payload) > 0 && gjson.ValidBytes(payload) {
		doc := gjson.ParseBytes(payload)
		base.Code = doc.Get("code").Int()
		base.Message = doc.Get("message").String()
		base.FieldErrors = flattenFieldErrors(doc.Get("errors"))
	}

	switch {
	case status == 403:
		return &naff.Forbidden{HTTPError: base}
	case status == 404:
		return &naff.NotFound{HTTPError: base}
	case status >= 500:
		return &naff.DiscordError{HTTPError: base}
	default:
		return base
	}
}

// rateLimitedFromResponse builds the 429 error. The wait comes from the
// Retry-After style header when the caller parsed one, else from the body.
func rateLimitedFromResponse(route *naff.Route, payload []byte, retryAfter time.Duration) *naff.RateLimited {
	base := &naff.HTTPError{
		Status: 429,
		Method: route.Method,
		Path:   route.Path,
	}
	global := false
	if len(payload) > 0 && gjson.ValidBytes(payload) {
		doc := gjson.ParseBytes(payload)
		base.Code = doc.Get("code").Int()
		base.Message = doc.Get("message").String()
		global = doc.Get("global").Bool()
		if retryAfter <= 0 {
			retryAfter = secondsToDuration(doc.Get("retry_after").Float())
		}
	}
	return &naff.RateLimited{
		HTTPError:  base,
		RetryAfter: retryAfter,
		Global:     global,
	}
}

// flattenFieldErrors walks the nested errors tree and returns one line per
// leaf. Branch keys become a dotted path, so a bad embed field reads like
// "embeds.0.fields.0.name: BASE_TYPE_REQUIRED This field is required".
func flattenFieldErrors(node gjson.Result) []string {
	if !node.IsObject() {
		return nil
	}
	var flat []string
	var walk func(prefix string, node gjson.Result)
	walk = func(prefix string, node gjson.Result) {
		node.ForEach(func(key, value gjson.Result) bool {
			if key.String() == "_errors" && value.IsArray() {
				value.ForEach(func(_, item gjson.Result) bool {
					line := fmt.Sprintf("%s %s", item.Get("code").String(), item.Get("message").String())
					if prefix != "" {
						line = prefix + ": " + line
					}
					flat = append(flat, line)
					return true
				})
				return true
			}
			if value.IsObject() {
				next := key.String()
				if prefix != "" {
					next = prefix + "." + next
				}
				walk(next, value)
			}
			return true
		})
	}
	walk("", node)
	return flat
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
