package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"iepp.org/internal/auth"
	"iepp.org/internal/config"
	"iepp.org/internal/provision"
)

func memoryConfig() config.Config {
	return config.Config{
		Auth: config.Auth{
			Issuer:     "iepp-test",
			TokenTTL:   time.Hour,
			HMACSecret: "0123456789abcdef0123",
			BcryptCost: bcrypt.MinCost,
		},
		Provision: config.Provision{CompensationTimeout: time.Second},
	}
}

func TestBuildInMemoryProvisionsEndToEnd(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ready.Ping(ctx))
	res, err := c.Provisioner.Provision(ctx, auth.Caller{UID: "root", Role: auth.RoleSuperLeader}, provision.Request{
		Email: "ana@iglesia.org", Password: "secret1", Role: "admin",
		Department: "departamento-diaconos", Nombre: "Ana", Apellidos: "Ruiz",
	})
	require.NoError(t, err)

	signed, err := c.Identity.SignIn(ctx, "ana@iglesia.org", "secret1")
	require.NoError(t, err)
	assert.Equal(t, res.UID, signed.Account.UID)

	caller, err := auth.NewResolver(c.Identity).Resolve(ctx, "Bearer "+signed.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, caller.Role)

	_, ok, err := c.Tokens.JWKS()
	require.NoError(t, err)
	assert.False(t, ok, "hmac keys are never published")
}

func TestBuildWithRSAKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signing.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, pemData, 0o600))

	cfg := memoryConfig()
	cfg.Auth.HMACSecret = ""
	cfg.Auth.RSAKeyFile = path
	cfg.Auth.KeyID = "k1"

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	set, ok, err := c.Tokens.JWKS()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, string(set), `"kid":"k1"`)
}

func TestBuildRejectsUnreadableKey(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.HMACSecret = ""
	cfg.Auth.RSAKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "read signing key")

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	cfg.Auth.RSAKeyFile = garbage
	_, err = Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "parse signing key")
}

func TestCloseRunsInReverse(t *testing.T) {
	var order []int
	c := &Components{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return nil },
	}}
	require.NoError(t, c.Close())
	assert.Equal(t, []int{2, 1}, order)
	require.NoError(t, c.Close())
	assert.Equal(t, []int{2, 1}, order)
}
