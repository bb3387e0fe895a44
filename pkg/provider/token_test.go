package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAuthTokenLiteral(t *testing.T) {
	tok, err := ParseAuthToken("  s3cret  ")
	require.NoError(t, err)
	require.False(t, tok.IsZero())

	val, err := tok.Resolve()
	require.NoError(t, err)
	require.Equal(t, "s3cret", val)

	sig, err := tok.Signature()
	require.NoError(t, err)
	require.Equal(t, "0", sig)
}

func TestParseAuthTokenEmpty(t *testing.T) {
	tok, err := ParseAuthToken("")
	require.NoError(t, err)
	require.True(t, tok.IsZero())

	val, err := tok.Resolve()
	require.NoError(t, err)
	require.Empty(t, val)
}

func TestParseAuthTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok-1\n"), 0o600))

	tok, err := ParseAuthToken("file://" + path)
	require.NoError(t, err)

	val, err := tok.Resolve()
	require.NoError(t, err)
	require.Equal(t, "tok-1", val)

	sig1, err := tok.Signature()
	require.NoError(t, err)
	require.NotEqual(t, "0", sig1)

	require.NoError(t, os.WriteFile(path, []byte("tok-2\n"), 0o600))
	sig2, err := tok.Signature()
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig2)

	val, err = tok.Resolve()
	require.NoError(t, err)
	require.Equal(t, "tok-2", val)
}

func TestParseAuthTokenMissingFile(t *testing.T) {
	_, err := ParseAuthToken("file:///does/not/exist/token")
	require.Error(t, err)
}

func TestAuthTokenEmptyFileFailsResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	tok, err := ParseAuthToken("file:" + path)
	require.NoError(t, err)

	_, err = tok.Resolve()
	require.Error(t, err)
}

func TestSecretStringRedactsFormatting(t *testing.T) {
	s := SecretString("hunter2")
	require.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	require.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	require.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	require.Equal(t, "hunter2", string(s))
}
