// Package attest construye, firma y re-verifica documentos de attestation:
// el reclamo firmado de una empresa sobre la experiencia laboral de una
// persona. La verificación es de dos factores: validez matemática de la firma
// contra el snapshot de clave embebido, y confirmación independiente por DNS
// de que ese snapshot sigue siendo la identidad publicada del emisor.
package attest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ma13w/cverify/internal/crypto/canonical"
	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/observability/logger"
)

const (
	DocumentType    = "work_experience_attestation"
	DocumentVersion = "1.0"
)

var (
	ErrInvalidClaims   = errors.New("attest: claims are empty or malformed")
	ErrInvalidDocument = errors.New("attest: malformed attestation document")
)

// Campos que el transporte puede agregar al body y que nunca forman parte
// de lo firmado.
var transportFields = []string{"received_at", "relayed_by"}

// Party identifica un extremo del attestation.
type Party struct {
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// Experience es un ítem de experiencia laboral validada.
type Experience struct {
	Role        string `json:"role"`
	Company     string `json:"company,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// Document es el formato de intercambio completo. El body vive como mapa
// genérico: un verifier debe re-canonicalizar exactamente lo que recibió,
// incluyendo campos que esta versión no conoce.
type Document struct {
	Attestation        map[string]any `json:"attestation"`
	Signature          string         `json:"signature"`
	SignatureAlgorithm string         `json:"signature_algorithm"`
	IssuerPublicKey    string         `json:"issuer_public_key"`
}

// AttestationID retorna el id del body, o "" si falta.
func (d *Document) AttestationID() string {
	id, _ := d.Attestation["attestation_id"].(string)
	return id
}

// IssuerDomain retorna el dominio del emisor según el body.
func (d *Document) IssuerDomain() string {
	iss, _ := d.Attestation["issuer"].(map[string]any)
	dom, _ := iss["domain"].(string)
	return dom
}

// IssueInput agrupa los datos para emitir. El fingerprint del issuer se
// deriva de la clave privada, nunca se toma del caller.
type IssueInput struct {
	Issuer       Party
	Subject      Party
	Experiences  []Experience
	RequestToken string
	PrivatePEM   string
	Passphrase   string
}

// VerificationResult separa los dos factores. SignatureValid=false es fallo
// duro. IssuerDNSVerified=false con firma válida es advertencia blanda (DNS
// caído o clave rotada): el caller decide, nunca se colapsa a un booleano.
type VerificationResult struct {
	SignatureValid    bool     `json:"signature_valid"`
	IssuerDNSVerified bool     `json:"issuer_dns_verified"`
	Errors            []string `json:"errors,omitempty"`
}

// Engine emite y verifica attestations.
type Engine struct {
	resolver *dnsid.Resolver
	now      func() time.Time
}

type Option func(*Engine)

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(resolver *dnsid.Resolver, opts ...Option) *Engine {
	e := &Engine{resolver: resolver, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Issue construye y firma un attestation. El documento resultante es
// inmutable: re-emitir produce un attestation_id nuevo.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (*Document, error) {
	if len(in.Experiences) == 0 {
		return nil, ErrInvalidClaims
	}
	for _, x := range in.Experiences {
		if strings.TrimSpace(x.Role) == "" {
			return nil, fmt.Errorf("%w: experience without role", ErrInvalidClaims)
		}
	}

	issuerDomain, err := dnsid.NormalizeDomain(in.Issuer.Domain)
	if err != nil {
		return nil, err
	}
	subjectDomain := in.Subject.Domain
	if subjectDomain != "" {
		if subjectDomain, err = dnsid.NormalizeDomain(subjectDomain); err != nil {
			return nil, err
		}
	}

	pubPEM, err := keys.PublicFromPrivate(in.PrivatePEM, in.Passphrase)
	if err != nil {
		return nil, err
	}
	issuerFP, err := keys.Fingerprint(pubPEM)
	if err != nil {
		return nil, err
	}

	exps := make([]any, 0, len(in.Experiences))
	for _, x := range in.Experiences {
		exps = append(exps, experienceMap(x))
	}

	subject := map[string]any{
		"domain":      subjectDomain,
		"name":        in.Subject.Name,
		"fingerprint": in.Subject.Fingerprint,
	}

	hash, err := userDataHash(subject, exps)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	body := map[string]any{
		"type":           DocumentType,
		"version":        DocumentVersion,
		"attestation_id": uuid.NewString(),
		"issuer": map[string]any{
			"domain":      issuerDomain,
			"name":        in.Issuer.Name,
			"fingerprint": issuerFP,
		},
		"subject":               subject,
		"user_data_hash":        hash,
		"validated_experiences": exps,
		"issued_at":             now.Format(time.RFC3339),
		"issued_timestamp":      now.Unix(),
		"request_token":         in.RequestToken,
	}

	sig, err := canonical.Sign(body, in.PrivatePEM, in.Passphrase)
	if err != nil {
		return nil, err
	}

	logger.From(ctx).Info("attestation issued",
		logger.Domain(issuerDomain),
		logger.AttestationID(body["attestation_id"].(string)))

	return &Document{
		Attestation:        body,
		Signature:          sig,
		SignatureAlgorithm: canonical.Algorithm,
		IssuerPublicKey:    pubPEM,
	}, nil
}

// Verify re-verifica un documento recibido de un tercero. Nunca retorna
// error por desconfianza: los resultados negativos van en el result. El
// error de retorno queda para documentos estructuralmente imposibles de
// procesar.
func (e *Engine) Verify(ctx context.Context, doc *Document) (*VerificationResult, error) {
	res := &VerificationResult{}
	if doc == nil || len(doc.Attestation) == 0 || doc.Signature == "" || doc.IssuerPublicKey == "" {
		return nil, ErrInvalidDocument
	}
	if doc.SignatureAlgorithm != canonical.Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidDocument, doc.SignatureAlgorithm)
	}

	body := stripTransport(doc.Attestation)

	ok, err := canonical.Verify(body, doc.Signature, doc.IssuerPublicKey)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("signature check failed: %v", err))
		return res, nil
	}
	res.SignatureValid = ok
	if !ok {
		res.Errors = append(res.Errors, "signature does not match attestation body")
	}

	// tamper-evidence independiente de la firma
	if subj, okS := body["subject"].(map[string]any); okS {
		if exps, okE := body["validated_experiences"].([]any); okE {
			want, _ := body["user_data_hash"].(string)
			got, herr := userDataHash(subj, exps)
			if herr == nil && want != "" && got != want {
				res.Errors = append(res.Errors, "user_data_hash does not match subject data")
			}
		}
	}

	snapshotFP, err := keys.Fingerprint(doc.IssuerPublicKey)
	if err != nil {
		res.Errors = append(res.Errors, "issuer public key snapshot is not a valid key")
		return res, nil
	}

	issuerDomain := doc.IssuerDomain()
	if issuerDomain == "" {
		res.Errors = append(res.Errors, "attestation body has no issuer domain")
		return res, nil
	}

	v, err := e.resolver.VerifyDomain(ctx, issuerDomain, snapshotFP)
	if err != nil {
		// DNS inalcanzable o registros corruptos: firma válida pero identidad
		// actual inconfirmable
		res.Errors = append(res.Errors, fmt.Sprintf("dns verification failed: %v", err))
		return res, nil
	}
	if !v.Valid {
		res.Errors = append(res.Errors, v.Errors...)
		return res, nil
	}
	res.IssuerDNSVerified = true
	return res, nil
}

// stripTransport copia el body sin los campos agregados en tránsito.
func stripTransport(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	for _, f := range transportFields {
		delete(out, f)
	}
	return out
}

func experienceMap(x Experience) map[string]any {
	m := map[string]any{"role": x.Role}
	if x.Company != "" {
		m["company"] = x.Company
	}
	if x.StartDate != "" {
		m["start_date"] = x.StartDate
	}
	if x.EndDate != "" {
		m["end_date"] = x.EndDate
	}
	if x.Description != "" {
		m["description"] = x.Description
	}
	return m
}

// userDataHash es el hash de contenido de los datos del sujeto: dominio,
// fingerprint y experiencias. Independiente de la firma.
func userDataHash(subject map[string]any, exps []any) (string, error) {
	b, err := canonical.Marshal(map[string]any{
		"subject_domain":      subject["domain"],
		"subject_fingerprint": subject["fingerprint"],
		"experiences":         exps,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
