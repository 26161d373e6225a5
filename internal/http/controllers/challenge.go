package controllers

import (
	stderrors "errors"
	"net/http"

	"github.com/ma13w/cverify/internal/challenge"
	apierrors "github.com/ma13w/cverify/internal/http/errors"
	"github.com/ma13w/cverify/internal/http/helpers"
	"github.com/ma13w/cverify/internal/metrics"
	"github.com/ma13w/cverify/internal/notify"
)

// ChallengeController maneja el ciclo challenge → respond → session.
type ChallengeController struct {
	Auth     *challenge.Authenticator
	Tokens   *challenge.TokenIssuer
	Notifier *notify.Notifier
}

type issueRequest struct {
	Domain string `json:"domain"`
}

// Issue maneja POST /v1/challenge.
func (c *ChallengeController) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Domain == "" {
		apierrors.WriteError(w, apierrors.ErrMissingFields.WithDetail("domain"))
		return
	}
	ch, err := c.Auth.Issue(r.Context(), req.Domain)
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	metrics.ChallengesIssued.Inc()
	helpers.WriteJSON(w, http.StatusCreated, ch)
}

type respondRequest struct {
	Domain    string `json:"domain"`
	Signature string `json:"signature"`
	// Contact opcional: correo a avisar del login exitoso (señal de auditoría).
	Contact string `json:"contact,omitempty"`
}

// Respond maneja POST /v1/challenge/respond.
func (c *ChallengeController) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Domain == "" || req.Signature == "" {
		apierrors.WriteError(w, apierrors.ErrMissingFields.WithDetail("domain, signature"))
		return
	}
	res, err := c.Auth.Respond(r.Context(), req.Domain, req.Signature)
	if err != nil {
		switch {
		case stderrors.Is(err, challenge.ErrChallengeExpired):
			metrics.ChallengesRejected.WithLabelValues("expired").Inc()
		case stderrors.Is(err, challenge.ErrInvalidSignature):
			metrics.ChallengesRejected.WithLabelValues("bad_signature").Inc()
		case stderrors.Is(err, challenge.ErrNoActiveChallenge):
			metrics.ChallengesRejected.WithLabelValues("no_challenge").Inc()
		case stderrors.Is(err, challenge.ErrDomainMismatch):
			metrics.ChallengesRejected.WithLabelValues("domain_mismatch").Inc()
		}
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	metrics.ChallengesConsumed.Inc()
	c.Notifier.DomainAuthenticated(req.Contact, res.Session.Domain)
	helpers.WriteJSON(w, http.StatusOK, res)
}

// Session maneja GET /v1/session: estado de la sesión del bearer token.
func (c *ChallengeController) Session(w http.ResponseWriter, r *http.Request) {
	sess, ok := c.authenticate(w, r)
	if !ok {
		return
	}
	helpers.WriteJSON(w, http.StatusOK, sess)
}

// Renew maneja POST /v1/session/renew.
func (c *ChallengeController) Renew(w http.ResponseWriter, r *http.Request) {
	sess, ok := c.authenticate(w, r)
	if !ok {
		return
	}
	renewed, err := c.Auth.Renew(r.Context(), sess.ID)
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	token, err := c.Tokens.Mint(renewed)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, challenge.AuthResult{Session: renewed, Token: token})
}

// authenticateRequest implementa sessionResolver para los controllers que
// requieren una sesión vigente.
func (c *ChallengeController) authenticateRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess, ok := c.authenticate(w, r)
	if !ok {
		return "", false
	}
	return sess.Domain, true
}

// authenticate resuelve el bearer token a una sesión vigente. Escribe el
// error si falla.
func (c *ChallengeController) authenticate(w http.ResponseWriter, r *http.Request) (*challenge.Session, bool) {
	token := helpers.BearerToken(r)
	if token == "" {
		apierrors.WriteError(w, apierrors.ErrUnauthorized)
		return nil, false
	}
	id, err := c.Tokens.SessionID(token)
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return nil, false
	}
	sess, err := c.Auth.Session(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return nil, false
	}
	return sess, true
}
