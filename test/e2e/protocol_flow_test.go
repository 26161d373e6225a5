package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ma13w/cverify/internal/attest"
	"github.com/ma13w/cverify/internal/challenge"
	"github.com/ma13w/cverify/internal/crypto/canonical"
	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/http/controllers"
	"github.com/ma13w/cverify/internal/http/router"
	"github.com/ma13w/cverify/internal/rate"
	"github.com/ma13w/cverify/internal/store/memory"
)

// fakeTXT simula la zona DNS de los dominios del test.
type fakeTXT struct {
	mu      sync.Mutex
	records map[string][]string
}

func newFakeTXT() *fakeTXT { return &fakeTXT{records: make(map[string][]string)} }

func (f *fakeTXT) LookupTXT(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs, ok := f.records[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return append([]string(nil), recs...), nil
}

func (f *fakeTXT) publish(t *testing.T, domain, publicPEM string) {
	t.Helper()
	fp, err := keys.Fingerprint(publicPEM)
	require.NoError(t, err)
	kr, err := dnsid.KeyRecords(publicPEM)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[domain] = append([]string{dnsid.IdentityRecord(fp)}, kr...)
}

type stack struct {
	srv *httptest.Server
	txt *fakeTXT
}

func newStack(t *testing.T, limiter rate.Limiter) *stack {
	t.Helper()
	txt := newFakeTXT()
	resolver := dnsid.NewResolver(txt)
	repo := memory.New()
	tokens := challenge.NewTokenIssuer("e2e-secret", "cverify")
	auth := challenge.New(resolver, repo, tokens)
	engine := attest.NewEngine(resolver)

	challengeCtrl := &controllers.ChallengeController{Auth: auth, Tokens: tokens}
	handler := router.New(router.Deps{
		Identity:  &controllers.IdentityController{Resolver: resolver},
		Challenge: challengeCtrl,
		Attestation: &controllers.AttestationController{
			Engine:   engine,
			Sessions: challengeCtrl,
			Repo:     repo,
		},
		Health:           &controllers.HealthController{Version: "test"},
		ChallengeLimiter: limiter,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, txt: txt}
}

func (s *stack) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var (
	companyOnce sync.Once
	companyKeys *keys.KeyPair
	rotatedKeys *keys.KeyPair
)

func companyPair(t *testing.T) (*keys.KeyPair, *keys.KeyPair) {
	t.Helper()
	companyOnce.Do(func() {
		var err error
		if companyKeys, err = keys.Generate(2048, ""); err != nil {
			panic(err)
		}
		if rotatedKeys, err = keys.Generate(2048, ""); err != nil {
			panic(err)
		}
	})
	return companyKeys, rotatedKeys
}

// authenticate completa el ciclo challenge → firma → respond y devuelve el
// token de sesión.
func authenticate(t *testing.T, s *stack, domain, privatePEM string) string {
	t.Helper()
	resp := s.postJSON(t, "/v1/challenge", "", map[string]string{"domain": domain})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ch := decode[challenge.Challenge](t, resp)
	require.Equal(t, domain, ch.Domain)
	require.NotEmpty(t, ch.Nonce)

	sig, err := canonical.Sign(ch.SignedPayload(), privatePEM, "")
	require.NoError(t, err)

	resp = s.postJSON(t, "/v1/challenge/respond", "", map[string]string{
		"domain":    domain,
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[challenge.AuthResult](t, resp)
	require.NotEmpty(t, res.Token)
	require.Equal(t, domain, res.Session.Domain)
	return res.Token
}

func TestHealthEndpoints(t *testing.T) {
	s := newStack(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := s.srv.Client().Get(s.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestIdentityEndpoint(t *testing.T) {
	s := newStack(t, nil)
	company, _ := companyPair(t)
	s.txt.publish(t, "acme.example.com", company.PublicPEM)

	resp, err := s.srv.Client().Get(s.srv.URL + "/v1/identity/acme.example.com")
	require.NoError(t, err)
	v := decode[dnsid.DomainVerification](t, resp)
	require.True(t, v.Valid)
	require.Equal(t, company.Fingerprint, v.Identity)

	// dominio sin publicación: 200 con Valid=false, la ausencia no es error
	resp, err = s.srv.Client().Get(s.srv.URL + "/v1/identity/nadie.example.com")
	require.NoError(t, err)
	v = decode[dnsid.DomainVerification](t, resp)
	require.False(t, v.Valid)
	require.NotEmpty(t, v.Errors)
}

func TestChallengeAuthenticationFlow(t *testing.T) {
	s := newStack(t, nil)
	company, _ := companyPair(t)
	s.txt.publish(t, "acme.example.com", company.PublicPEM)

	token := authenticate(t, s, "acme.example.com", company.PrivatePEM)

	// la sesión queda consultable con el bearer token
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/v1/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	sess := decode[challenge.Session](t, resp)
	require.Equal(t, "acme.example.com", sess.Domain)
	require.Equal(t, company.Fingerprint, sess.Fingerprint)

	// renew devuelve token nuevo
	resp = s.postJSON(t, "/v1/session/renew", token, map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renewed := decode[challenge.AuthResult](t, resp)
	require.NotEmpty(t, renewed.Token)

	// el challenge es de un solo uso: repetir respond falla
	resp = s.postJSON(t, "/v1/challenge/respond", "", map[string]string{
		"domain":    "acme.example.com",
		"signature": "AAAA",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestChallengeWrongKeyRejected(t *testing.T) {
	s := newStack(t, nil)
	company, rotated := companyPair(t)
	s.txt.publish(t, "acme.example.com", company.PublicPEM)

	resp := s.postJSON(t, "/v1/challenge", "", map[string]string{"domain": "acme.example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ch := decode[challenge.Challenge](t, resp)

	sig, err := canonical.Sign(ch.SignedPayload(), rotated.PrivatePEM, "")
	require.NoError(t, err)
	resp = s.postJSON(t, "/v1/challenge/respond", "", map[string]string{
		"domain":    "acme.example.com",
		"signature": sig,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAttestationEndToEnd(t *testing.T) {
	s := newStack(t, nil)
	company, rotated := companyPair(t)
	s.txt.publish(t, "acme.example.com", company.PublicPEM)

	token := authenticate(t, s, "acme.example.com", company.PrivatePEM)

	// emitir sin sesión: 401
	resp := s.postJSON(t, "/v1/attestations", "", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	issueBody := map[string]any{
		"issuer_name": "ACME Corp",
		"subject": map[string]string{
			"domain": "jane.example.org",
			"name":   "Jane Doe",
		},
		"experiences": []map[string]string{
			{"role": "Engineer", "start_date": "2020-01-01"},
		},
		"private_key": company.PrivatePEM,
	}
	resp = s.postJSON(t, "/v1/attestations", token, issueBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decode[struct {
		Document *attest.Document `json:"document"`
	}](t, resp)
	doc := issued.Document
	require.NotNil(t, doc)
	require.NotEmpty(t, doc.AttestationID())
	require.Equal(t, "acme.example.com", doc.IssuerDomain())

	// la copia del emisor queda persistida
	resp, err := s.srv.Client().Get(s.srv.URL + "/v1/attestations/" + doc.AttestationID())
	require.NoError(t, err)
	stored := decode[attest.Document](t, resp)
	require.Equal(t, doc.Signature, stored.Signature)

	// verificación de tercero: firma + DNS confirmados
	resp = s.postJSON(t, "/v1/attestations/verify", "", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verdict := decode[attest.VerificationResult](t, resp)
	require.True(t, verdict.SignatureValid)
	require.True(t, verdict.IssuerDNSVerified)

	// rotación de clave: la firma sigue válida pero DNS ya no la confirma
	s.txt.publish(t, "acme.example.com", rotated.PublicPEM)
	resp = s.postJSON(t, "/v1/attestations/verify", "", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verdict = decode[attest.VerificationResult](t, resp)
	require.True(t, verdict.SignatureValid)
	require.False(t, verdict.IssuerDNSVerified)
	require.NotEmpty(t, verdict.Errors)
}

func TestChallengeRateLimit(t *testing.T) {
	s := newStack(t, rate.NewMemoryLimiter(2, time.Minute))
	company, _ := companyPair(t)
	s.txt.publish(t, "acme.example.com", company.PublicPEM)

	for i := 0; i < 2; i++ {
		resp := s.postJSON(t, "/v1/challenge", "", map[string]string{"domain": "acme.example.com"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	resp := s.postJSON(t, "/v1/challenge", "", map[string]string{"domain": "acme.example.com"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()
}
