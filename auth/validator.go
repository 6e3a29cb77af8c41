package auth

import (
	"chat-core/errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateParticipantID rejects ids that cannot name a node of the store tree
// or that contain the conversation key separator.
func ValidateParticipantID(id string) error {
	if err := validate.Var(id, "required,max=128,excludesall=/.#$[]_"); err != nil {
		return fmt.Errorf("%w: participant id %q: %v", errors.ErrPolicyViolation, id, err)
	}
	if strings.ContainsFunc(id, unicode.IsSpace) {
		return fmt.Errorf("%w: participant id %q contains spaces", errors.ErrPolicyViolation, id)
	}
	return nil
}
