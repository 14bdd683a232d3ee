package keys_test

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/storefront-auth/token/keys"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndReloadRSAKeyPair(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 1024)
	require.NoError(t, err)
	require.Equal(t, 2048, kp.PrivateKey.(*rsa.PrivateKey).N.BitLen())

	pemData, err := kp.ExportPrivateKeyPEM()
	require.NoError(t, err)

	reloaded, err := keys.LoadKeyPairFromPEM("kid-1", pemData)
	require.NoError(t, err)
	require.True(t, kp.PrivateKey.(*rsa.PrivateKey).Equal(reloaded.PrivateKey))

	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, []byte(pemData), 0o600))
	fromFile, err := keys.LoadKeyPairFromFile("kid-1", path)
	require.NoError(t, err)
	require.Equal(t, "kid-1", fromFile.KeyID)
}

func TestLoadPKCS8(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	require.NoError(t, err)

	pemData := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	_, err = keys.LoadKeyPairFromPEM("kid-1", pemData)
	require.NoError(t, err)

	_, err = keys.LoadKeyPairFromPEM("kid-1", "not pem")
	require.Error(t, err)
}

func TestKeyPairSigner_JWKS(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	signer := keys.NewKeyPairSigner(kp)

	jwks, err := signer.GetJWKS()
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)
	require.Equal(t, "kid-1", jwks.Keys[0].Kid)
	require.Equal(t, keys.RS256, jwks.Keys[0].Alg)
	require.Equal(t, "AQAB", jwks.Keys[0].E)
}

func TestSigners_RoundTrip(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	hmac, err := keys.NewHMACSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	for name, signer := range map[string]keys.Signer{
		"hmac": hmac,
		"rsa":  keys.NewKeyPairSigner(kp),
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := signer.Sign(jwt.MapClaims{"sub": "user-1"})
			require.NoError(t, err)

			parsed, err := jwt.Parse(raw, signer.GetVerificationKey)
			require.NoError(t, err)
			require.True(t, parsed.Valid)
			require.Equal(t, signer.GetSigningMethod().Alg(), parsed.Method.Alg())
		})
	}
}

func TestSigners_RejectForeignAlgorithm(t *testing.T) {
	kp, err := keys.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)
	rsaSigner := keys.NewKeyPairSigner(kp)
	hmac, err := keys.NewHMACSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	raw, err := hmac.Sign(jwt.MapClaims{"sub": "user-1"})
	require.NoError(t, err)
	_, err = jwt.Parse(raw, rsaSigner.GetVerificationKey)
	require.Error(t, err)
}

func TestNewHMACSigner_ShortSecret(t *testing.T) {
	_, err := keys.NewHMACSigner("short")
	require.Error(t, err)
}
