// Package errors define el catálogo de errores de la API y el mapeo desde
// los sentinel errors de los paquetes de protocolo.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/ma13w/cverify/internal/attest"
	"github.com/ma13w/cverify/internal/challenge"
	"github.com/ma13w/cverify/internal/cluster"
	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/store/core"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta HTTP del error. Errores sin mapeo salen
// como 500 genérico sin filtrar la causa al cliente.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// MapDomain traduce los sentinel errors del protocolo al catálogo HTTP.
func MapDomain(err error) *AppError {
	var nv *challenge.DomainNotVerifiedError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &nv):
		detail := ""
		if len(nv.Reasons) > 0 {
			detail = nv.Reasons[0]
		}
		return ErrDomainNotVerified.WithDetail(detail).WithCause(err)
	case stderrors.Is(err, challenge.ErrNoActiveChallenge):
		return ErrNoActiveChallenge.WithCause(err)
	case stderrors.Is(err, challenge.ErrChallengeExpired):
		return ErrChallengeExpired.WithCause(err)
	case stderrors.Is(err, challenge.ErrDomainMismatch):
		return ErrBadRequest.WithDetail("responding domain differs from issuing domain").WithCause(err)
	case stderrors.Is(err, challenge.ErrInvalidSignature):
		return ErrInvalidSignature.WithCause(err)
	case stderrors.Is(err, challenge.ErrSessionInvalid), stderrors.Is(err, challenge.ErrInvalidToken):
		return ErrSessionInvalid.WithCause(err)
	case stderrors.Is(err, attest.ErrInvalidClaims):
		return ErrMissingFields.WithDetail("claims are empty or malformed").WithCause(err)
	case stderrors.Is(err, attest.ErrInvalidDocument):
		return ErrBadRequest.WithDetail("malformed attestation document").WithCause(err)
	case stderrors.Is(err, dnsid.ErrBadDomain):
		return ErrInvalidDomain.WithCause(err)
	case stderrors.Is(err, dnsid.ErrCorruptKey):
		return ErrDomainNotVerified.WithDetail("published key records are corrupt").WithCause(err)
	case stderrors.Is(err, dnsid.ErrLookup):
		return ErrDNSUnavailable.WithCause(err)
	case stderrors.Is(err, cluster.ErrNotLeader):
		return ErrNotLeader.WithCause(err)
	case stderrors.Is(err, core.ErrNotFound):
		return ErrNotFound.WithCause(err)
	default:
		return FromError(err)
	}
}
