package metering

import (
	"fmt"
	"regexp"
	"strings"
)

// minCredentialLength is the shortest credential accepted by format validation
const minCredentialLength = 20

var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCredential checks the format of a custom credential: non-empty
// after trimming, at least minCredentialLength characters, restricted to
// alphanumerics, underscore and hyphen.
//
// This is a format check only. A credential that passes can still be rejected
// by the generation service at call time, which surfaces as a generation
// error rather than a configuration error.
func ValidateCredential(credential string) error {
	cleaned := strings.TrimSpace(credential)
	if cleaned == "" {
		return fmt.Errorf("%w: empty credential", ErrInvalidCredential)
	}
	if len(cleaned) < minCredentialLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrInvalidCredential, minCredentialLength)
	}
	if !credentialPattern.MatchString(cleaned) {
		return fmt.Errorf("%w: contains characters outside [A-Za-z0-9_-]", ErrInvalidCredential)
	}
	return nil
}
