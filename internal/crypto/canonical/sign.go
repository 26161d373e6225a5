package canonical

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ma13w/cverify/internal/crypto/keys"
)

// Algorithm identifica el esquema digest+firma usado en los documentos.
const Algorithm = "SHA256withRSA"

// ErrVerification indica fallo de infraestructura al verificar (clave pública
// ilegible). Una firma que simplemente no coincide NO es este error: eso es
// un resultado negativo normal (false, nil).
var ErrVerification = errors.New("canonical: verification infrastructure failure")

// Sign canonicaliza v y firma el digest SHA-256 de los bytes canónicos.
// Errores distinguibles: ErrEmptyPayload, keys.ErrInvalidKey,
// keys.ErrPassphraseRequired, keys.ErrWrongPassphrase.
func Sign(v map[string]any, privatePEM, passphrase string) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	priv, err := keys.ParsePrivate(privatePEM, passphrase)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("canonical: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify canonicaliza v de forma idéntica a Sign y verifica la firma contra
// la clave pública. Una firma que no coincide retorna (false, nil); sólo los
// problemas de infraestructura (clave ilegible, base64 roto) retornan error.
func Verify(v map[string]any, signatureB64, publicPEM string) (bool, error) {
	data, err := Marshal(v)
	if err != nil {
		return false, err
	}
	pub, err := keys.ParsePublic(publicPEM)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("%w: bad signature encoding: %v", ErrVerification, err)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return false, nil
	}
	return true, nil
}
