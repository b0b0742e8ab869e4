package generate

import "errors"

var (
	// ErrTopicTooShort is returned when a sanitized topic is below the minimum length.
	ErrTopicTooShort = errors.New("topic must be at least 3 characters")

	// ErrTopicTooLong is returned when a sanitized topic exceeds the maximum length.
	ErrTopicTooLong = errors.New("topic must be at most 200 characters")

	// ErrTopicForbidden is returned when a topic matches a forbidden content pattern.
	ErrTopicForbidden = errors.New("topic contains forbidden content")

	// ErrNoCredential is returned when neither a caller credential nor a
	// system credential is available for the upstream call.
	ErrNoCredential = errors.New("no credential configured for generation")
)
