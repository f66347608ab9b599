package relay

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxIdentityLength is the longest accepted display name, in characters.
const MaxIdentityLength = 20

// ErrInvalidIdentity is returned for names that fail ValidateIdentity.
var ErrInvalidIdentity = errors.New("relay: invalid identity")

var validate = validator.New()

type identityInput struct {
	Identity string `validate:"required,max=20"`
}

// NormalizeIdentity trims surrounding whitespace.
func NormalizeIdentity(identity string) string {
	return strings.TrimSpace(identity)
}

// ValidateIdentity checks a normalized display name: 1 to 20 characters of
// valid UTF-8 without control characters.
func ValidateIdentity(identity string) error {
	if !utf8.ValidString(identity) {
		return ErrInvalidIdentity
	}
	if err := validate.Struct(identityInput{Identity: identity}); err != nil {
		return ErrInvalidIdentity
	}
	for _, r := range identity {
		if unicode.IsControl(r) {
			return ErrInvalidIdentity
		}
	}
	return nil
}
