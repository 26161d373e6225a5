package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ma13w/cverify/internal/attest"
	"github.com/ma13w/cverify/internal/delivery"
	apierrors "github.com/ma13w/cverify/internal/http/errors"
	"github.com/ma13w/cverify/internal/http/helpers"
	"github.com/ma13w/cverify/internal/metrics"
	"github.com/ma13w/cverify/internal/notify"
	"github.com/ma13w/cverify/internal/observability/logger"
	"github.com/ma13w/cverify/internal/store/core"
)

// AttestationController emite, consulta y verifica attestations.
// Emitir requiere una sesión autenticada: el dominio emisor es siempre el
// de la sesión, nunca uno declarado en el body.
type AttestationController struct {
	Engine   *attest.Engine
	Sessions sessionResolver
	Repo     core.Repository
	Courier  *delivery.Courier
	Notifier *notify.Notifier
}

// sessionResolver es lo mínimo que el controller necesita del
// autenticador: bearer token → sesión vigente.
type sessionResolver interface {
	authenticateRequest(w http.ResponseWriter, r *http.Request) (domain string, ok bool)
}

type issueAttestationRequest struct {
	IssuerName     string              `json:"issuer_name"`
	Subject        attest.Party        `json:"subject"`
	Experiences    []attest.Experience `json:"experiences"`
	RequestToken   string              `json:"request_token"`
	PrivateKey     string              `json:"private_key"`
	Passphrase     string              `json:"passphrase,omitempty"`
	SubjectContact string              `json:"subject_contact,omitempty"`
	Deliver        bool                `json:"deliver,omitempty"`
}

type issueAttestationResponse struct {
	Document *attest.Document `json:"document"`
	Delivery *delivery.Result `json:"delivery,omitempty"`
}

// Issue maneja POST /v1/attestations.
func (c *AttestationController) Issue(w http.ResponseWriter, r *http.Request) {
	issuerDomain, ok := c.Sessions.authenticateRequest(w, r)
	if !ok {
		return
	}
	var req issueAttestationRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.PrivateKey == "" {
		apierrors.WriteError(w, apierrors.ErrMissingFields.WithDetail("private_key"))
		return
	}

	doc, err := c.Engine.Issue(r.Context(), attest.IssueInput{
		Issuer:       attest.Party{Domain: issuerDomain, Name: req.IssuerName},
		Subject:      req.Subject,
		Experiences:  req.Experiences,
		RequestToken: req.RequestToken,
		PrivatePEM:   req.PrivateKey,
		Passphrase:   req.Passphrase,
	})
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if err := c.Repo.Put(r.Context(), core.AttestationKey(doc.AttestationID()), raw, 0); err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	metrics.AttestationsIssued.Inc()

	resp := issueAttestationResponse{Document: doc}
	if req.Deliver && req.Subject.Domain != "" && c.Courier != nil {
		// best-effort: el attestation ya está emitido y persistido
		dres, derr := c.Courier.Deliver(r.Context(), req.Subject.Domain, doc)
		if derr != nil {
			metrics.Deliveries.WithLabelValues("unreachable").Inc()
			logger.From(r.Context()).Warn("attestation delivery failed",
				logger.Domain(req.Subject.Domain), logger.Err(derr))
		} else {
			metrics.Deliveries.WithLabelValues("ok").Inc()
			resp.Delivery = dres
		}
	}
	c.Notifier.AttestationIssued(req.SubjectContact, issuerDomain, doc.AttestationID())

	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// Get maneja GET /v1/attestations/{id}: la copia persistida del emisor.
func (c *AttestationController) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, err := c.Repo.Get(r.Context(), core.AttestationKey(id))
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// Verify maneja POST /v1/attestations/verify. Público: cualquiera puede
// re-verificar un documento que recibió.
func (c *AttestationController) Verify(w http.ResponseWriter, r *http.Request) {
	var doc attest.Document
	if !helpers.ReadJSON(w, r, &doc) {
		return
	}
	res, err := c.Engine.Verify(r.Context(), &doc)
	if err != nil {
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	sig, dns := "invalid", "unconfirmed"
	if res.SignatureValid {
		sig = "valid"
	}
	if res.IssuerDNSVerified {
		dns = "confirmed"
	}
	metrics.AttestationsVerified.WithLabelValues(sig, dns).Inc()
	helpers.WriteJSON(w, http.StatusOK, res)
}
