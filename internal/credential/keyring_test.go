package credential

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountPasswordPrefersEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "s3cret")

	pw, err := AccountPassword("alice@example.org")
	require.NoError(t, err)
	require.Equal(t, "s3cret", pw)
}

func TestAccountKey(t *testing.T) {
	require.Equal(t, "account-alice@example.org", AccountKey("alice@example.org"))
}
