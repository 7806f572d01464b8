package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("upload-1", "uploads/file.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	uploadID, relPath, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "upload-1", uploadID)
	require.Equal(t, "uploads/file.pdf", relPath)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("upload-1", "uploads/file.pdf")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expired")
}

func TestSignedURLSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("upload-1", "uploads/file.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 4)
	parts[0] = "upload-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."))
	require.Error(t, err)
}

func TestSignedURLSignerRejectsForeignSecret(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	other := NewSignedURLSigner("other-secret", time.Hour)
	token, _, err := signer.Generate("upload-1", "uploads/file.pdf")
	require.NoError(t, err)

	_, _, _, err = other.Parse(token)
	require.Error(t, err)
}

func TestSignedURLSignerRequiresArguments(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	_, _, err := signer.Generate("", "uploads/file.pdf")
	require.Error(t, err)

	_, _, err = signer.Generate("upload-1", "")
	require.Error(t, err)

	_, _, _, err = signer.Parse("not-a-token")
	require.Error(t, err)
}
