// Package naff holds the neutral contracts of the NAFF client library: entity
// identifiers and wire DTOs, gateway event types, REST routing and request
// options, the error taxonomy, and the cache interface.
//
// The package is import-cycle free on purpose. Everything here is consumed by
// both the machinery under internal/ and by library users; it never imports
// either side.
package naff

// Version is the library version advertised in the REST user agent and the
// gateway identify properties.
const Version = "0.1.0"

// UserAgent is the descriptive user agent sent with every REST request, in
// the form the platform documents for bot libraries.
const UserAgent = "DiscordBot (https://github.com/NAFTeam/NAFF-sub001, " + Version + ")"
