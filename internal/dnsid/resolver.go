package dnsid

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/metrics"
	"github.com/ma13w/cverify/internal/observability/logger"
)

// TXTLookuper es la costura hacia DNS real; en tests se inyecta un fake.
type TXTLookuper interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// NetLookuper resuelve con el resolver del sistema.
type NetLookuper struct{ R *net.Resolver }

func (n NetLookuper) LookupTXT(ctx context.Context, name string) ([]string, error) {
	r := n.R
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupTXT(ctx, name)
}

// Resolver resuelve identidad y clave pública de un dominio desde TXT.
type Resolver struct {
	txt     TXTLookuper
	timeout time.Duration
	sf      singleflight.Group
}

type Option func(*Resolver)

// WithTimeout acota cada lookup (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

func NewResolver(txt TXTLookuper, opts ...Option) *Resolver {
	r := &Resolver{txt: txt, timeout: 10 * time.Second}
	if r.txt == nil {
		r.txt = NetLookuper{}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// lookup hace el lookup TXT con timeout, deduplicando llamadas concurrentes
// al mismo dominio (singleflight).
func (r *Resolver) lookup(ctx context.Context, domain string) ([]string, error) {
	v, err, _ := r.sf.Do(domain, func() (any, error) {
		lctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		start := time.Now()
		recs, err := r.txt.LookupTXT(lctx, domain)
		metrics.DNSLookupLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
				// dominio sin TXT: no es fallo de infraestructura
				return []string{}, nil
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrLookup, domain, err)
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ResolveIdentity retorna el fingerprint publicado, o "" si no hay registro.
func (r *Resolver) ResolveIdentity(ctx context.Context, domain string) (string, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return "", err
	}
	recs, err := r.lookup(ctx, d)
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		if strings.HasPrefix(rec, TagIdentity) {
			return strings.TrimPrefix(rec, TagIdentity), nil
		}
	}
	return "", nil
}

// ResolvePublicKey reensambla la clave pública publicada, o "" si no hay
// registros de clave. ErrCorruptKey si lo reensamblado no decodifica.
func (r *Resolver) ResolvePublicKey(ctx context.Context, domain string) (string, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return "", err
	}
	recs, err := r.lookup(ctx, d)
	if err != nil {
		return "", err
	}
	return reassembleKey(recs)
}

func reassembleKey(records []string) (string, error) {
	type chunk struct {
		idx  int
		data string
	}
	var tagged []chunk
	var untagged []string

	for _, rec := range records {
		if !strings.HasPrefix(rec, TagPubKey) {
			continue
		}
		val := strings.TrimPrefix(rec, TagPubKey)
		// "<dígitos>.<chunk>" => chunk indexado; base64 nunca contiene "."
		if i := strings.IndexByte(val, '.'); i > 0 {
			if idx, err := strconv.Atoi(val[:i]); err == nil {
				tagged = append(tagged, chunk{idx: idx, data: val[i+1:]})
				continue
			}
		}
		untagged = append(untagged, val)
	}

	var body string
	switch {
	case len(tagged) == 0 && len(untagged) == 0:
		return "", nil
	case len(tagged) == 0 && len(untagged) == 1:
		// único registro sin índice: chunk 0 inambiguo
		body = untagged[0]
	case len(untagged) > 0:
		// mezcla de registros con y sin índice: no hay orden confiable
		return "", fmt.Errorf("%w: ambiguous untagged chunk", ErrCorruptKey)
	default:
		sort.Slice(tagged, func(i, j int) bool { return tagged[i].idx < tagged[j].idx })
		var b strings.Builder
		for _, c := range tagged {
			b.WriteString(c.data)
		}
		body = b.String()
	}

	pem := wrapArmor(body)
	if !keys.ValidatePublicKey(pem) {
		return "", ErrCorruptKey
	}
	return pem, nil
}

// DomainVerification es el reporte completo de verifyDomain. La ausencia de
// registros se reporta en Errors, nunca como excepción: un dominio a medio
// configurar merece un reporte claro, no un crash.
type DomainVerification struct {
	Domain    string   `json:"domain"`
	Valid     bool     `json:"valid"`
	Identity  string   `json:"identity,omitempty"`
	PublicKey string   `json:"public_key,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// VerifyDomain resuelve identidad y clave y evalúa el estado del dominio.
// Valid requiere ambos registros presentes y, si expectedFingerprint no es
// vacío, que la identidad resuelta coincida. Sólo sintaxis inválida,
// corrupción de clave o fallo del lookup retornan error.
func (r *Resolver) VerifyDomain(ctx context.Context, domain, expectedFingerprint string) (*DomainVerification, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	res := &DomainVerification{Domain: d}

	identity, err := r.ResolveIdentity(ctx, d)
	if err != nil {
		return nil, err
	}
	pubKey, err := r.ResolvePublicKey(ctx, d)
	if err != nil {
		return nil, err
	}

	res.Identity = identity
	res.PublicKey = pubKey

	if identity == "" {
		res.Errors = append(res.Errors, "no identity record found (cverify-id)")
	}
	if pubKey == "" {
		res.Errors = append(res.Errors, "no public key records found (cverify-pubkey)")
	}
	if identity != "" && pubKey != "" {
		fp, ferr := keys.Fingerprint(pubKey)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptKey, ferr)
		}
		if fp != identity {
			res.Errors = append(res.Errors, "published identity does not match public key fingerprint")
		}
	}
	if expectedFingerprint != "" && identity != expectedFingerprint {
		res.Errors = append(res.Errors, "resolved identity does not match expected fingerprint")
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		logger.From(ctx).Debug("domain verification incomplete",
			logger.Domain(d), logger.Count(len(res.Errors)))
	}
	return res, nil
}
