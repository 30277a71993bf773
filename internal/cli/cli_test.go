package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/veilpay/internal/auth"
	"github.com/dmitrijs2005/veilpay/internal/config"
)

func newTestApp(out *bytes.Buffer) *App {
	cfg := &config.Config{TokenValidityDuration: 10 * time.Minute}
	return NewApp(cfg, out)
}

func stubSecret(t *testing.T, secret string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(fd int) ([]byte, error) {
		return []byte(secret), nil
	}
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)

	assert.ErrorIs(t, a.Run(context.Background(), nil), ErrUsage)
	assert.ErrorIs(t, a.Run(context.Background(), []string{"bogus"}), ErrUsage)
	assert.ErrorIs(t, a.Run(context.Background(), []string{"token", "addr"}), ErrUsage)
}

func TestMintToken(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	stubSecret(t, "s3cr3t")

	require.NoError(t, a.Run(context.Background(), []string{"token", "0xabc", "employer"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	token := lines[len(lines)-1]

	address, role, err := auth.ParseToken(token, []byte("s3cr3t"))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", address)
	assert.Equal(t, auth.RoleEmployer, role)
}

func TestMintToken_UnknownRole(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	stubSecret(t, "s3cr3t")

	err := a.Run(context.Background(), []string{"token", "0xabc", "janitor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestGetSecret_UsesSeam(t *testing.T) {
	var out bytes.Buffer
	stubSecret(t, "hunter2")

	secret, err := GetSecret(&out)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), secret)
	assert.Contains(t, out.String(), "Enter signing secret")
}
