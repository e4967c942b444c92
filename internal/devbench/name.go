package devbench

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxNameLength bounds requested names so derived external names stay
	// usable as hostnames.
	MaxNameLength = 63

	// Separator joins owner and requested name in the external name.
	Separator = "_"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName checks a user-supplied devbench name against the allow-list.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q may only contain letters, digits, hyphen and underscore", ErrInvalidName, name)
	}
	return nil
}

// ExternalName derives the name passed to the provisioning script.
// The owner is reduced to [a-z0-9_] and both parts are lowercased.
func ExternalName(ownerID, requestedName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ownerID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String() + Separator + strings.ToLower(requestedName)
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateUserID checks a username used as an owner key.
func ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid username %q: use up to 64 letters, digits, dot, hyphen or underscore", id)
	}
	return nil
}
