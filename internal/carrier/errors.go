package carrier

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying carrier failures. Send callers treat
// ErrTransient as retryable and everything else as a terminal rejection.
var (
	ErrInvalidRecipient         = errors.New("invalid recipient")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrRecipientBlocked         = errors.New("recipient blocked")
	ErrUnsupportedRecipientType = errors.New("unsupported recipient type")
	ErrSendRejected             = errors.New("send rejected")
	ErrTransient                = errors.New("transient provider error")
	ErrNotFound                 = errors.New("message not found")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Retryable reports whether the error is worth retrying against the carrier.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
