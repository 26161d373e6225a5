// Package core define el contrato de persistencia del protocolo: un KV plano
// de registros JSON (challenges, sesiones, atestaciones) con semántica
// last-writer-wins. Los adapters viven en los subpaquetes memory/redis/fs/pg.
package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
)

// Repository es el KV que el core necesita. Sin garantías transaccionales
// entre keys: las operaciones del protocolo están diseñadas para tolerarlo.
type Repository interface {
	// Get retorna el valor o ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put guarda con last-writer-wins. ttl 0 = sin expiración; los backends
	// sin soporte de TTL (fs, pg) lo ignoran y el caller expira por contenido.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete es idempotente: borrar una key inexistente no es error.
	Delete(ctx context.Context, key string) error

	// List retorna las keys con el prefijo dado.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Prefijos de keys por tipo de registro.
const (
	PrefixChallenge   = "challenge/"
	PrefixSession     = "session/"
	PrefixAttestation = "attestation/"
)

// ChallengeKey arma la key del único challenge vigente para un dominio.
func ChallengeKey(domain string) string { return PrefixChallenge + domain }

// SessionKey arma la key de una sesión por id.
func SessionKey(id string) string { return PrefixSession + id }

// AttestationKey arma la key de una atestación por id.
func AttestationKey(id string) string { return PrefixAttestation + id }
