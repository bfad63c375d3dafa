// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Repository and backend sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a request the backend refused as malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEventNotValid is reported by the backend when a check-in targets an event
	// that has ended or a QR code that is no longer accepted.
	ErrEventNotValid = errors.New("event no longer valid")

	// ErrRateLimited indicates the backend throttled a submission.
	ErrRateLimited = errors.New("rate limited")
)

// Key-material errors. Fatal to the attempted operation and never retried.
var (
	// ErrKeyUnavailable indicates a symmetric secret could not be produced.
	ErrKeyUnavailable = errors.New("key unavailable")

	// ErrKeyGenerationFailed indicates an EC keypair could not be generated or persisted.
	ErrKeyGenerationFailed = errors.New("key generation failed")

	// ErrKeyNotFound indicates a requested per-day key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrIdentityMissing indicates the device is not registered yet.
	ErrIdentityMissing = errors.New("identity missing")

	// ErrNoDailyKey indicates no validated daily key is cached.
	ErrNoDailyKey = errors.New("no daily key available")
)

// Validation errors for daily keys and authenticated payloads.
var (
	// ErrSignatureInvalid indicates a daily key signature did not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrKeyExpired indicates a daily key older than the accepted window.
	ErrKeyExpired = errors.New("key expired")

	// ErrMacMismatch indicates an authentication tag did not verify.
	ErrMacMismatch = errors.New("mac mismatch")

	// ErrChecksumMismatch indicates a QR payload with a broken checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Codec errors.
var (
	// ErrRandomnessUnavailable indicates the entropy source failed.
	ErrRandomnessUnavailable = errors.New("randomness unavailable")

	// ErrEncodingFailed indicates a plaintext structure could not be serialized.
	ErrEncodingFailed = errors.New("encoding failed")
)

// Protocol-state errors, surfaced to the caller for user-facing messaging.
var (
	// ErrAlreadyCheckedIn indicates a check-in while another one is active.
	ErrAlreadyCheckedIn = errors.New("already checked in")

	// ErrNotCheckedIn indicates a check-out without an active check-in.
	ErrNotCheckedIn = errors.New("not checked in")

	// ErrPrivateMeetingRunning indicates a check-in while hosting a private meeting.
	ErrPrivateMeetingRunning = errors.New("private meeting running")

	// ErrCheckInToOutdatedEvent indicates the venue rejected the check-in as stale.
	ErrCheckInToOutdatedEvent = errors.New("check-in to outdated event")
)
