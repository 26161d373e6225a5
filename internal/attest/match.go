package attest

import (
	"strings"

	"github.com/ma13w/cverify/internal/dnsid"
)

// ExperienceRecord es el registro local de experiencia contra el que se
// intenta casar un attestation importado.
type ExperienceRecord struct {
	AttestationID string `json:"attestation_id,omitempty"`
	Role          string `json:"role"`
	CompanyDomain string `json:"company_domain"`
}

// MatchExperience busca el registro local que corresponde a un attestation
// importado: primero por attestation_id exacto, después por (rol +
// dominio normalizado de la empresa). Retorna el índice o -1.
func MatchExperience(doc *Document, records []ExperienceRecord) int {
	if doc == nil {
		return -1
	}
	if id := doc.AttestationID(); id != "" {
		for i, r := range records {
			if r.AttestationID == id {
				return i
			}
		}
	}

	issuer := normalizeLoose(doc.IssuerDomain())
	if issuer == "" {
		return -1
	}
	exps, _ := doc.Attestation["validated_experiences"].([]any)
	for _, ex := range exps {
		m, ok := ex.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "" {
			continue
		}
		for i, r := range records {
			if strings.EqualFold(r.Role, role) && normalizeLoose(r.CompanyDomain) == issuer {
				return i
			}
		}
	}
	return -1
}

// normalizeLoose normaliza un dominio para comparación: minúsculas y sin
// "www.". Tolerante: un valor que no parsea como dominio se compara igual
// tras lowercase.
func normalizeLoose(domain string) string {
	if d, err := dnsid.NormalizeDomain(domain); err == nil {
		return d
	}
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(d, "www.")
}
