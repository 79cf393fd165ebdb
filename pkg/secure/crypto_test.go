package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer_KeySizes(t *testing.T) {
	s, err := NewSealer(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = NewSealer([]byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	s, err = NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSealer_EncryptDecrypt(t *testing.T) {
	s, err := NewSealer([]byte("0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := s.EncryptString("482913")
	require.NoError(t, err)
	assert.NotEqual(t, "482913", sealed)

	again, err := s.EncryptString("482913")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := s.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "482913", plain)
}

func TestSealer_DecryptWithOtherKeyFails(t *testing.T) {
	a, _ := NewSealer([]byte("0123456789abcdef"))
	b, _ := NewSealer([]byte("fedcba9876543210"))

	sealed, err := a.EncryptString("482913")
	require.NoError(t, err)

	_, err = b.DecryptString(sealed)
	assert.Error(t, err)
}

func TestSealer_NilPassesThrough(t *testing.T) {
	var s *Sealer

	out, err := s.EncryptString("482913")
	require.NoError(t, err)
	assert.Equal(t, "482913", out)

	out, err = s.DecryptString("482913")
	require.NoError(t, err)
	assert.Equal(t, "482913", out)
}
