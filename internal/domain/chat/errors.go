package chat

import "errors"

var (
	// ErrPreconditionFailed covers missing identity, empty text, unknown
	// conversation and non-participant callers. Never retried.
	ErrPreconditionFailed = errors.New("chat: precondition failed")
	// ErrStoreUnavailable marks transport/backend failures during create, append or subscribe.
	ErrStoreUnavailable = errors.New("chat: store unavailable")
	// ErrSendFailed means the message was not appended.
	ErrSendFailed = errors.New("chat: send failed")
	// ErrMetadataUpdateFailed is a warning: the message was appended but the
	// conversation metadata was not updated. Callers must not re-send.
	ErrMetadataUpdateFailed = errors.New("chat: metadata update failed")
	// ErrLookupFailed is returned by profile/listing lookups. Always non-fatal.
	ErrLookupFailed = errors.New("chat: lookup failed")
	// ErrStreamError is surfaced when a subscription delivers an error instead of a snapshot.
	ErrStreamError = errors.New("chat: stream error")

	ErrIdentityRequired     = errors.New("chat: authenticated user required")
	ErrNotParticipant       = errors.New("chat: caller is not a participant")
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrParticipantsInvalid  = errors.New("chat: conversation needs two distinct participants")
	ErrTextRequired         = errors.New("chat: message text is required")
	ErrSenderRequired       = errors.New("chat: message sender is required")

	// ErrTransient is wrapped by stores when a write was rejected before it
	// could have been applied; such failures may use the direct-append path.
	ErrTransient = errors.New("chat: transient store failure")
)

// IsTransient reports whether err was classified transient by the store.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
