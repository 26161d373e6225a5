package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Sellado de claves privadas con passphrase: argon2id deriva la clave AES-256
// y AES-GCM autentica el ciphertext. El body PEM es salt || nonce || ct.
const (
	pemTypeSealed = "CVERIFY ENCRYPTED PRIVATE KEY"

	saltSize  = 16
	nonceSize = 12 // AES-GCM nonce recomendado (96 bits)

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
)

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func sealPrivateKey(der []byte, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrGenerate, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrGenerate, err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerate, err)
	}

	ct := aesgcm.Seal(nil, nonce, der, nil)
	body := make([]byte, 0, saltSize+nonceSize+len(ct))
	body = append(body, salt...)
	body = append(body, nonce...)
	body = append(body, ct...)

	p := pem.EncodeToMemory(&pem.Block{
		Type:    pemTypeSealed,
		Headers: map[string]string{"KDF": "argon2id"},
		Bytes:   body,
	})
	return string(p), nil
}

func openSealedBlock(block *pem.Block, passphrase string) ([]byte, error) {
	body := block.Bytes
	if len(body) < saltSize+nonceSize+1 {
		return nil, ErrInvalidKey
	}
	salt := body[:saltSize]
	nonce := body[saltSize : saltSize+nonceSize]
	ct := body[saltSize+nonceSize:]

	b, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aesgcm, err := cipher.NewGCM(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	plain, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		// GCM no distingue clave mala de ciphertext corrupto; para el caller
		// ambos significan "esa passphrase no abre esta clave".
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
