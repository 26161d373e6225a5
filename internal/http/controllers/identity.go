// Package controllers implementa los handlers de la API del protocolo.
package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ma13w/cverify/internal/dnsid"
	apierrors "github.com/ma13w/cverify/internal/http/errors"
	"github.com/ma13w/cverify/internal/http/helpers"
	"github.com/ma13w/cverify/internal/metrics"
)

// IdentityController expone la verificación pública de identidad DNS.
type IdentityController struct {
	Resolver *dnsid.Resolver
}

// Check maneja GET /v1/identity/{domain}. El query param fingerprint
// agrega la comparación contra un fingerprint esperado.
func (c *IdentityController) Check(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	expected := r.URL.Query().Get("fingerprint")

	v, err := c.Resolver.VerifyDomain(r.Context(), domain, expected)
	if err != nil {
		metrics.DNSLookups.WithLabelValues("error").Inc()
		apierrors.WriteError(w, apierrors.MapDomain(err))
		return
	}
	if v.Valid {
		metrics.DNSLookups.WithLabelValues("ok").Inc()
	} else {
		metrics.DNSLookups.WithLabelValues("absent").Inc()
	}
	helpers.WriteJSON(w, http.StatusOK, v)
}
