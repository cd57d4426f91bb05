package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotPending is returned when a pending-only transition loses to another writer.
	ErrJobNotPending = errors.New("job is not pending")
	// ErrJobNotInState is returned when a finalize finds the job in an unexpected status.
	ErrJobNotInState = errors.New("job is not in the expected state")

	ErrDeviceNotFound        = errors.New("device not found")
	ErrSiteNotFound          = errors.New("site not found")
	ErrConfigHistoryNotFound = errors.New("configuration history not found")
	ErrOutcomeNotFound       = errors.New("job outcome not found")
	ErrFollowUpNotFound      = errors.New("follow-up check not found")
)
