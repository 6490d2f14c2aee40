package message

import "errors"

// Service errors. The HTTP layer maps these to status codes; raw storage
// and provider errors never cross this boundary with user-visible detail.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotMember       = errors.New("not a participant")
	ErrNotFound        = errors.New("not found")
	ErrEmptyMessage    = errors.New("message needs content, ciphertext or attachments")
	ErrE2EERequired    = errors.New("strict e2ee requires ciphertext and encrypted keys")
	ErrEditNotAllowed  = errors.New("edit_not_allowed")
	ErrTombstoned      = errors.New("message deleted")
	ErrPremiumRequired = errors.New("premium plan required")
	ErrBadSchedule     = errors.New("scheduledAt must be at least 5s in the future")
	ErrBadLimit        = errors.New("limit must be between 1 and 100")
)
