package framed

import (
	"errors"
	"fmt"

	"github.com/lairchat/server/internal/v1/apperr"
)

var errEncryptionRequired = errors.New("framed: client did not offer an ephemeral key and encryption is required")

func errUnexpectedFrame(got string) error {
	return fmt.Errorf("framed: unexpected frame type %q during handshake", got)
}

// wireParseError is the business error for a frame that decrypted fine but
// is not valid envelope JSON. Unlike crypto failures this is answerable: the
// peer holds the session key, so responding leaks nothing.
func wireParseError() error {
	return apperr.New(apperr.CodeContentEmpty, "malformed frame payload")
}
