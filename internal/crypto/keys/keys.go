// Package keys maneja los pares de claves RSA de una identidad: generación,
// codificación PEM, fingerprints y validación de material pegado a mano.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	// DefaultBits es la fuerza por defecto de las claves generadas.
	DefaultBits = 2048
	// MinBits es la fuerza mínima aceptada al validar claves ajenas.
	MinBits = 2048

	pemTypePublic  = "PUBLIC KEY"
	pemTypePrivate = "PRIVATE KEY"
)

var (
	// ErrGenerate indica fallo del motor de entropía/generación.
	ErrGenerate = errors.New("keys: key generation failed")
	// ErrInvalidKey indica material que no decodifica como clave RSA válida.
	ErrInvalidKey = errors.New("keys: invalid key material")
	// ErrWeakKey indica una clave por debajo de MinBits.
	ErrWeakKey = errors.New("keys: key below minimum strength")
	// ErrPassphraseRequired indica una clave protegida sin passphrase provista.
	ErrPassphraseRequired = errors.New("keys: passphrase required")
	// ErrWrongPassphrase indica passphrase incorrecta para una clave protegida.
	ErrWrongPassphrase = errors.New("keys: wrong passphrase")
)

// KeyPair es un par de claves con su forma PEM lista para persistir/publicar.
type KeyPair struct {
	PrivatePEM  string
	PublicPEM   string
	Bits        int
	Fingerprint string
}

// Generate produce un par RSA nuevo. Con bits <= 0 usa DefaultBits.
// Si passphrase no es vacía, la clave privada se sella (ver seal.go).
func Generate(bits int, passphrase string) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultBits
	}
	if bits < MinBits {
		return nil, fmt.Errorf("%w: %d bits", ErrWeakKey, bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}

	var privPEM string
	if passphrase != "" {
		privPEM, err = sealPrivateKey(privDER, passphrase)
		if err != nil {
			return nil, err
		}
	} else {
		privPEM = string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: privDER}))
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER}))

	return &KeyPair{
		PrivatePEM:  privPEM,
		PublicPEM:   pubPEM,
		Bits:        bits,
		Fingerprint: fingerprintDER(pubDER),
	}, nil
}

// PublicFromPrivate deriva el PEM de la clave pública correspondiente a una
// clave privada (sellada o no).
func PublicFromPrivate(privatePEM, passphrase string) (string, error) {
	priv, err := ParsePrivate(privatePEM, passphrase)
	if err != nil {
		return "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER})), nil
}

// Fingerprint calcula el SHA-256 (hex) de los bytes DER de la clave pública.
// Determinístico: dos copias de la misma clave producen el mismo valor.
func Fingerprint(publicPEM string) (string, error) {
	block, _ := pem.Decode([]byte(Normalize(publicPEM)))
	if block == nil || block.Type != pemTypePublic {
		return "", ErrInvalidKey
	}
	return fingerprintDER(block.Bytes), nil
}

func fingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParsePublic decodifica una clave pública RSA desde PEM (normalizando antes).
func ParsePublic(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(Normalize(publicPEM)))
	if block == nil || block.Type != pemTypePublic {
		return nil, ErrInvalidKey
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	if pub.N.BitLen() < MinBits {
		return nil, ErrWeakKey
	}
	return pub, nil
}

// ParsePrivate decodifica una clave privada RSA desde PEM. Para claves
// selladas requiere passphrase; distingue passphrase faltante de incorrecta
// para que el caller pueda preguntar lo correcto.
func ParsePrivate(privatePEM, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(Normalize(privatePEM)))
	if block == nil {
		return nil, ErrInvalidKey
	}

	der := block.Bytes
	switch block.Type {
	case pemTypeSealed:
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		plain, err := openSealedBlock(block, passphrase)
		if err != nil {
			return nil, err
		}
		der = plain
	case pemTypePrivate, "RSA PRIVATE KEY":
		// sin protección
	default:
		return nil, ErrInvalidKey
	}

	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if priv, ok := k.(*rsa.PrivateKey); ok {
			return priv, nil
		}
		return nil, ErrInvalidKey
	}
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return priv, nil
	}
	return nil, ErrInvalidKey
}

// ValidatePublicKey reporta si candidate decodifica como clave RSA pública
// de la fuerza mínima.
func ValidatePublicKey(candidate string) bool {
	_, err := ParsePublic(candidate)
	return err == nil
}

// ValidatePrivateKey reporta si candidate decodifica (con passphrase si
// está protegida).
func ValidatePrivateKey(candidate, passphrase string) bool {
	_, err := ParsePrivate(candidate, passphrase)
	return err == nil
}
