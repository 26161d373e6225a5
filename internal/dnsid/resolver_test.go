package dnsid

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/ma13w/cverify/internal/metrics"
)

// fakeTXT es un TXTLookuper en memoria para tests.
type fakeTXT struct {
	mu      sync.Mutex
	records map[string][]string
	err     error
	calls   int
}

func (f *fakeTXT) LookupTXT(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	recs, ok := f.records[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return recs, nil
}

func (f *fakeTXT) publish(domain string, recs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[string][]string{}
	}
	f.records[domain] = append(f.records[domain], recs...)
}

func TestVerifyDomain_FullyPublished(t *testing.T) {
	p := testPair(t)
	fake := &fakeTXT{}
	fake.publish("empresa.example", IdentityRecord(p.Fingerprint))
	keyRecs, err := KeyRecords(p.PublicPEM)
	if err != nil {
		t.Fatal(err)
	}
	fake.publish("empresa.example", keyRecs...)

	r := NewResolver(fake)
	ctx := context.Background()

	// la entrada viene tal cual la pegó el usuario
	res, err := r.VerifyDomain(ctx, "https://WWW.Empresa.Example/careers", "")
	if err != nil {
		t.Fatalf("VerifyDomain err: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if res.Domain != "empresa.example" {
		t.Fatalf("domain not normalized: %q", res.Domain)
	}
	if res.Identity != p.Fingerprint {
		t.Fatalf("identity mismatch: %q", res.Identity)
	}

	// con fingerprint esperado correcto sigue válido
	res, err = r.VerifyDomain(ctx, "empresa.example", p.Fingerprint)
	if err != nil || !res.Valid {
		t.Fatalf("expected valid with matching expected fp: %v %v", res, err)
	}

	// con fingerprint esperado distinto deja de ser válido, sin excepción
	res, err = r.VerifyDomain(ctx, "empresa.example", "otrofingerprint")
	if err != nil {
		t.Fatalf("mismatch must not raise: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid for wrong expected fingerprint")
	}
}

func TestVerifyDomain_AbsenceIsReportedNotThrown(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeTXT{})
	res, err := r.VerifyDomain(context.Background(), "sin-registros.example", "")
	if err != nil {
		t.Fatalf("absence must not raise: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected two missing-record errors, got %v", res.Errors)
	}
}

func TestVerifyDomain_BadSyntaxRaises(t *testing.T) {
	t.Parallel()
	r := NewResolver(&fakeTXT{})
	if _, err := r.VerifyDomain(context.Background(), "no vale!", ""); !errors.Is(err, ErrBadDomain) {
		t.Fatalf("want ErrBadDomain, got %v", err)
	}
}

func TestResolver_LookupFailureIsRetryable(t *testing.T) {
	t.Parallel()
	fake := &fakeTXT{err: errors.New("i/o timeout")}
	r := NewResolver(fake)
	_, err := r.ResolveIdentity(context.Background(), "empresa.example")
	if !errors.Is(err, ErrLookup) {
		t.Fatalf("want ErrLookup, got %v", err)
	}
}

func TestResolvePublicKey_CorruptChunks(t *testing.T) {
	fake := &fakeTXT{}
	recs, err := KeyRecords(testPair(t).PublicPEM)
	if err != nil {
		t.Fatal(err)
	}
	// publicar sólo el primer chunk
	fake.publish("corta.example", recs[0])
	r := NewResolver(fake)
	if _, err := r.ResolvePublicKey(context.Background(), "corta.example"); !errors.Is(err, ErrCorruptKey) {
		t.Fatalf("want ErrCorruptKey, got %v", err)
	}
}

func lookupSamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.DNSLookupLatency.Write(&m); err != nil {
		t.Fatalf("leer histograma: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestResolver_LookupsAreTimed(t *testing.T) {
	p := testPair(t)
	fake := &fakeTXT{}
	fake.publish("medida.example", IdentityRecord(p.Fingerprint))

	r := NewResolver(fake)
	before := lookupSamples(t)
	if _, err := r.ResolveIdentity(context.Background(), "medida.example"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if after := lookupSamples(t); after <= before {
		t.Fatalf("lookup sin muestra de latencia: %d <= %d", after, before)
	}
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Empresa.Example":                  "empresa.example",
		"https://empresa.example/path?q=1": "empresa.example",
		"http://www.empresa.example":       "empresa.example",
		"empresa.example:8443":             "empresa.example",
		"empresa.example.":                 "empresa.example",
	}
	for in, want := range cases {
		got, err := NormalizeDomain(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: got %q want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "sinpunto", "-mal.example", "con espacio.example"} {
		if _, err := NormalizeDomain(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
