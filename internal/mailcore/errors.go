package mailcore

import (
	"errors"
	"fmt"
)

// AuthError indicates that a mail server rejected the account credentials.
type AuthError struct {
	Server   string
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): login failed for %s: %v", e.Server, e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
