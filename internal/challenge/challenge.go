// Package challenge implementa la autenticación challenge-response: un
// dominio demuestra controlar la clave privada cuyo par público publica por
// DNS firmando un challenge aleatorio de un solo uso.
//
// Máquina de estados por intento: NoChallenge → ChallengeIssued →
// (Consumed | Expired). Sólo un challenge vivo por dominio; emitir uno nuevo
// invalida el anterior de forma atómica.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ma13w/cverify/internal/crypto/canonical"
	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/observability/logger"
	"github.com/ma13w/cverify/internal/store/core"
)

var (
	ErrNoActiveChallenge = errors.New("challenge: no active challenge")
	ErrChallengeExpired  = errors.New("challenge: challenge expired, request a new one")
	ErrDomainMismatch    = errors.New("challenge: responding domain differs from issuing domain")
	ErrInvalidSignature  = errors.New("challenge: signature does not match")
	ErrSessionInvalid    = errors.New("challenge: session is not valid")
)

// DomainNotVerifiedError lleva los errores DNS subyacentes para que el
// caller pueda mostrar qué registro falta.
type DomainNotVerifiedError struct {
	Domain  string
	Reasons []string
}

func (e *DomainNotVerifiedError) Error() string {
	return fmt.Sprintf("challenge: domain %s not verified: %s", e.Domain, strings.Join(e.Reasons, "; "))
}

// Challenge es el documento que el dueño del dominio debe firmar.
// expires_at es contabilidad local del server: se excluye del payload
// firmado para que lo que se muestra al usuario antes de firmar coincida
// exactamente con lo que se verifica.
type Challenge struct {
	Domain    string `json:"domain"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Message   string `json:"message"`
}

// SignedPayload retorna el valor canónico a firmar, sin expires_at.
func (c *Challenge) SignedPayload() map[string]any {
	return map[string]any{
		"domain":    c.Domain,
		"nonce":     c.Nonce,
		"timestamp": c.Timestamp,
		"issued_at": c.IssuedAt,
		"message":   c.Message,
	}
}

// AuthResult es el resultado de un respond exitoso.
type AuthResult struct {
	Session *Session `json:"session"`
	Token   string   `json:"token"`
}

// Authenticator emite y valida challenges contra claves resueltas por DNS.
// El estado vive en el Repository inyectado, nunca en globals.
type Authenticator struct {
	resolver   *dnsid.Resolver
	repo       core.Repository
	tokens     *TokenIssuer
	ttl        time.Duration
	sessionTTL time.Duration
	recheck    time.Duration
	now        func() time.Time

	slots sync.Map // domain -> *sync.Mutex: serializa operaciones por slot
}

type Option func(*Authenticator)

func WithChallengeTTL(d time.Duration) Option {
	return func(a *Authenticator) { a.ttl = d }
}

func WithSessionTTL(d time.Duration) Option {
	return func(a *Authenticator) { a.sessionTTL = d }
}

func WithRecheckInterval(d time.Duration) Option {
	return func(a *Authenticator) { a.recheck = d }
}

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func New(resolver *dnsid.Resolver, repo core.Repository, tokens *TokenIssuer, opts ...Option) *Authenticator {
	a := &Authenticator{
		resolver:   resolver,
		repo:       repo,
		tokens:     tokens,
		ttl:        5 * time.Minute,
		sessionTTL: 12 * time.Hour,
		recheck:    5 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Authenticator) slot(domain string) *sync.Mutex {
	mu, _ := a.slots.LoadOrStore(domain, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Issue emite un challenge nuevo para el dominio. Requiere que el dominio
// esté completamente publicado en DNS. Reemplaza atómicamente cualquier
// challenge anterior del mismo slot.
func (a *Authenticator) Issue(ctx context.Context, domain string) (*Challenge, error) {
	d, err := dnsid.NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	v, err := a.resolver.VerifyDomain(ctx, d, "")
	if err != nil {
		return nil, err // lookup/corrupción: reintentable o terminal según el caso
	}
	if !v.Valid {
		return nil, &DomainNotVerifiedError{Domain: d, Reasons: v.Errors}
	}

	nonce, err := randomNonce(32)
	if err != nil {
		return nil, fmt.Errorf("challenge: nonce: %w", err)
	}

	now := a.now().UTC()
	ch := &Challenge{
		Domain:    d,
		Nonce:     nonce,
		Timestamp: now.Unix(),
		IssuedAt:  now.Format(time.RFC3339),
		ExpiresAt: now.Add(a.ttl).Unix(),
		Message:   fmt.Sprintf("cverify: prove control of %s (nonce %s)", d, nonce[:8]),
	}

	b, err := json.Marshal(ch)
	if err != nil {
		return nil, err
	}

	mu := a.slot(d)
	mu.Lock()
	defer mu.Unlock()
	if err := a.repo.Put(ctx, core.ChallengeKey(d), b, a.ttl); err != nil {
		return nil, err
	}

	logger.From(ctx).Info("challenge issued", logger.Domain(d))
	return ch, nil
}

// Respond valida la firma del challenge vigente. La clave pública se
// re-resuelve fresca de DNS: una clave rotada entre emisión y respuesta se
// honra. El challenge es de un solo uso: éxito o expiración lo eliminan.
func (a *Authenticator) Respond(ctx context.Context, domain, signatureB64 string) (*AuthResult, error) {
	d, err := dnsid.NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	mu := a.slot(d)
	mu.Lock()
	defer mu.Unlock()

	raw, err := a.repo.Get(ctx, core.ChallengeKey(d))
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoActiveChallenge
	}
	if err != nil {
		return nil, err
	}
	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("challenge: corrupt record: %w", err)
	}

	now := a.now().UTC()
	if now.Unix() > ch.ExpiresAt {
		// expirado nunca es reutilizable
		_ = a.repo.Delete(ctx, core.ChallengeKey(d))
		return nil, ErrChallengeExpired
	}
	if ch.Domain != d {
		return nil, ErrDomainMismatch
	}

	pubPEM, err := a.resolver.ResolvePublicKey(ctx, d)
	if err != nil {
		return nil, err
	}
	if pubPEM == "" {
		return nil, &DomainNotVerifiedError{Domain: d, Reasons: []string{"no public key records found"}}
	}

	ok, err := canonical.Verify(ch.SignedPayload(), signatureB64, pubPEM)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	fp, err := keys.Fingerprint(pubPEM)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:           uuid.NewString(),
		Domain:       d,
		Fingerprint:  fp,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(a.sessionTTL).Unix(),
		LastDNSCheck: now.Unix(),
	}
	sb, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := a.repo.Put(ctx, core.SessionKey(sess.ID), sb, a.sessionTTL); err != nil {
		return nil, err
	}
	// consumido: un segundo respond con la misma firma ya no encuentra nada
	_ = a.repo.Delete(ctx, core.ChallengeKey(d))

	var token string
	if a.tokens != nil {
		token, err = a.tokens.Mint(sess)
		if err != nil {
			return nil, err
		}
	}

	logger.From(ctx).Info("challenge consumed, session created",
		logger.Domain(d), logger.SessionID(sess.ID))
	return &AuthResult{Session: sess, Token: token}, nil
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
