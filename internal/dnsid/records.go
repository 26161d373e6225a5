// Package dnsid publica y resuelve material de identidad vía registros DNS
// TXT. Todo el modelo de confianza arranca acá: un dominio publica el
// fingerprint de su identidad y su clave pública (en chunks si no entra en
// un TXT), y cualquiera puede resolverlos sin autoridad central.
package dnsid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ma13w/cverify/internal/crypto/keys"
)

// Formato de wire (bit-exact):
//
//	cverify-id=<hex fingerprint>
//	cverify-pubkey=<base64>            (clave corta, un solo registro)
//	cverify-pubkey=<índice>.<base64>   (clave larga, multi-registro)
const (
	TagIdentity = "cverify-id="
	TagPubKey   = "cverify-pubkey="

	// maxTXTLen es el límite del host para un TXT string.
	maxTXTLen = 255
)

var (
	// ErrCorruptKey indica que los chunks reensamblados no decodifican como
	// clave válida del tipo/fuerza esperados.
	ErrCorruptKey = errors.New("dnsid: reassembled key is corrupt")
	// ErrBadDomain indica sintaxis de dominio inválida.
	ErrBadDomain = errors.New("dnsid: malformed domain")
	// ErrLookup envuelve fallos del lookup DNS (reintentables).
	ErrLookup = errors.New("dnsid: txt lookup failed")
)

// IdentityRecord arma el TXT corto con el fingerprint de identidad.
func IdentityRecord(fingerprint string) string {
	return TagIdentity + fingerprint
}

// KeyRecords arma los TXT para publicar una clave pública. Despoja la
// armadura PEM y, si el body no entra en un registro, lo parte en chunks
// indexados. La partición es reversible: concatenar por índice ascendente
// reconstruye exactamente la codificación original.
func KeyRecords(publicPEM string) ([]string, error) {
	body, err := stripArmor(publicPEM)
	if err != nil {
		return nil, err
	}

	if len(TagPubKey)+len(body) <= maxTXTLen {
		return []string{TagPubKey + body}, nil
	}

	var records []string
	for i := 0; len(body) > 0; i++ {
		prefix := TagPubKey + strconv.Itoa(i) + "."
		size := maxTXTLen - len(prefix)
		if size <= 0 {
			return nil, fmt.Errorf("dnsid: record prefix exceeds TXT limit")
		}
		if size > len(body) {
			size = len(body)
		}
		records = append(records, prefix+body[:size])
		body = body[size:]
	}
	return records, nil
}

// stripArmor extrae el cuerpo base64 (sin saltos) de una clave pública PEM.
func stripArmor(publicPEM string) (string, error) {
	n := keys.Normalize(publicPEM)
	if !keys.ValidatePublicKey(n) {
		return "", keys.ErrInvalidKey
	}
	var b strings.Builder
	for _, line := range strings.Split(n, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

// wrapArmor re-envuelve un cuerpo base64 con la armadura de clave pública.
func wrapArmor(body string) string {
	var out strings.Builder
	out.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(body) > 64 {
		out.WriteString(body[:64])
		out.WriteByte('\n')
		body = body[64:]
	}
	if len(body) > 0 {
		out.WriteString(body)
		out.WriteByte('\n')
	}
	out.WriteString("-----END PUBLIC KEY-----\n")
	return out.String()
}
