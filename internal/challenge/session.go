package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ma13w/cverify/internal/observability/logger"
	"github.com/ma13w/cverify/internal/store/core"
)

// Session representa una autenticación vigente de un dominio. Guarda el
// fingerprint observado en el momento del respond para detectar rotaciones
// de clave en los rechecks periódicos.
type Session struct {
	ID           string `json:"id"`
	Domain       string `json:"domain"`
	Fingerprint  string `json:"fingerprint"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
	LastDNSCheck int64  `json:"last_dns_check"`
}

// IsAuthenticated reporta si la sesión sigue vigente. Cada recheck interval
// re-verifica la publicación DNS del dominio: si el dominio dejó de estar
// publicado (o rotó la clave) la sesión se invalida. Un fallo transitorio de
// lookup NO invalida: el estado conocido se mantiene hasta obtener una
// respuesta definitiva.
func (a *Authenticator) IsAuthenticated(ctx context.Context, sessionID string) (bool, error) {
	sess, err := a.getSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	now := a.now().UTC()
	if now.Unix() > sess.ExpiresAt {
		_ = a.repo.Delete(ctx, core.SessionKey(sess.ID))
		return false, nil
	}

	if now.Sub(time.Unix(sess.LastDNSCheck, 0)) < a.recheck {
		return true, nil
	}

	v, err := a.resolver.VerifyDomain(ctx, sess.Domain, sess.Fingerprint)
	if err != nil {
		// transitorio: no invalidar, no adelantar el reloj de recheck
		logger.From(ctx).Warn("session recheck lookup failed",
			logger.Domain(sess.Domain), logger.Err(err))
		return true, nil
	}
	if !v.Valid {
		logger.From(ctx).Info("session invalidated: domain no longer verified",
			logger.Domain(sess.Domain), logger.SessionID(sess.ID))
		_ = a.repo.Delete(ctx, core.SessionKey(sess.ID))
		return false, nil
	}

	sess.LastDNSCheck = now.Unix()
	if err := a.putSession(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// Renew extiende la expiración de una sesión vigente. Renovar una sesión
// expirada o invalidada retorna ErrSessionInvalid.
func (a *Authenticator) Renew(ctx context.Context, sessionID string) (*Session, error) {
	ok, err := a.IsAuthenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionInvalid
	}
	sess, err := a.getSession(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	sess.ExpiresAt = a.now().UTC().Add(a.sessionTTL).Unix()
	if err := a.putSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Session retorna la sesión si existe y está vigente.
func (a *Authenticator) Session(ctx context.Context, sessionID string) (*Session, error) {
	ok, err := a.IsAuthenticated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionInvalid
	}
	return a.getSession(ctx, sessionID)
}

func (a *Authenticator) getSession(ctx context.Context, id string) (*Session, error) {
	raw, err := a.repo.Get(ctx, core.SessionKey(id))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *Authenticator) putSession(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(s.ExpiresAt, 0))
	return a.repo.Put(ctx, core.SessionKey(s.ID), b, ttl)
}
