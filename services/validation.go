package services

import (
	"chat-core/domain/chat"
	"chat-core/domain/mimetypes"
	"chat-core/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MaxBodyLength bounds the text of a message or an edit.
const MaxBodyLength = 65536

type SendRequest struct {
	Body    string           `validate:"required_if=Type text,max=65536"`
	Type    chat.MessageType `validate:"required,oneof=text image video audio document"`
	Payload *chat.Payload    `validate:"required_unless=Type text"`
}

// ValidateSend checks the shape of a send request. Non-text messages must
// reference a payload whose MIME type is known and fits the message type.
func ValidateSend(req SendRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPolicyViolation, err)
	}
	if req.Payload == nil {
		return nil
	}
	if err := validate.Var(req.Payload.URL, "required,url"); err != nil {
		return fmt.Errorf("%w: payload url: %v", errors.ErrPolicyViolation, err)
	}
	mime, ok := mimetypes.Normalize(req.Payload.MIME)
	if !ok {
		return fmt.Errorf("%w: unknown payload type %q", errors.ErrPolicyViolation, req.Payload.MIME)
	}
	if !mimetypes.Fits(req.Type, mime) {
		return fmt.Errorf("%w: %s payload cannot be sent as %s", errors.ErrPolicyViolation, mime, req.Type)
	}
	return nil
}

func ValidateEdit(body string) error {
	if err := validate.Var(body, "required,max=65536"); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPolicyViolation, err)
	}
	return nil
}
