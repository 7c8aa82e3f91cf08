package naff

// Intents declare which event groups the gateway should deliver. They are
// sent in the identify payload; declaring a privileged intent the account
// has not been granted closes the connection with code 4014.
type Intents uint32

// Individual intent bits.
const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildEmojisAndStickers
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
	IntentGuildScheduledEvents
)

// Intent groupings.
const (
	// IntentsPrivileged are the intents that require explicit enablement on
	// the developer portal.
	IntentsPrivileged = IntentGuildMembers | IntentGuildPresences | IntentMessageContent
	// IntentsAll is every defined intent, privileged ones included.
	IntentsAll = IntentGuildScheduledEvents<<1 - 1
	// IntentsDefault is every non-privileged intent.
	IntentsDefault = IntentsAll &^ IntentsPrivileged
)

// Has reports whether every bit of other is set.
func (i Intents) Has(other Intents) bool {
	return i&other == other
}
