package challenge

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ma13w/cverify/internal/crypto/canonical"
	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/store/memory"
)

type fakeTXT struct {
	mu      sync.Mutex
	records map[string][]string
	fail    bool
}

func newFakeTXT() *fakeTXT {
	return &fakeTXT{records: make(map[string][]string)}
}

func (f *fakeTXT) LookupTXT(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, &net.DNSError{Err: "i/o timeout", Name: name, IsTimeout: true}
	}
	recs, ok := f.records[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return append([]string(nil), recs...), nil
}

func (f *fakeTXT) publish(t *testing.T, domain, publicPEM string) {
	t.Helper()
	fp, err := keys.Fingerprint(publicPEM)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	kr, err := dnsid.KeyRecords(publicPEM)
	if err != nil {
		t.Fatalf("key records: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[domain] = append([]string{dnsid.IdentityRecord(fp)}, kr...)
}

func (f *fakeTXT) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

var (
	pairOnce sync.Once
	pairA    *keys.KeyPair
	pairB    *keys.KeyPair
)

func testPairs(t *testing.T) (*keys.KeyPair, *keys.KeyPair) {
	t.Helper()
	pairOnce.Do(func() {
		var err error
		if pairA, err = keys.Generate(2048, ""); err != nil {
			panic(err)
		}
		if pairB, err = keys.Generate(2048, ""); err != nil {
			panic(err)
		}
	})
	return pairA, pairB
}

type fixture struct {
	auth *Authenticator
	txt  *fakeTXT
	now  time.Time
	mu   sync.Mutex
}

func (fx *fixture) clock() time.Time {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.now
}

func (fx *fixture) advance(d time.Duration) {
	fx.mu.Lock()
	fx.now = fx.now.Add(d)
	fx.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{txt: newFakeTXT(), now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	resolver := dnsid.NewResolver(fx.txt)
	tokens := NewTokenIssuer("unit-test-secret", "cverify-test", WithTokenClock(fx.clock))
	fx.auth = New(resolver, memory.New(), tokens, WithClock(fx.clock))
	return fx
}

func signChallenge(t *testing.T, ch *Challenge, privatePEM string) string {
	t.Helper()
	sig, err := canonical.Sign(ch.SignedPayload(), privatePEM, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestIssueUnpublishedDomain(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	_, err := fx.auth.Issue(context.Background(), "ghost.example.com")
	var nv *DomainNotVerifiedError
	if !errors.As(err, &nv) {
		t.Fatalf("want DomainNotVerifiedError, got %v", err)
	}
	if len(nv.Reasons) == 0 {
		t.Fatal("expected reasons in verification failure")
	}
}

func TestChallengeFlow(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "emisor.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "https://EMISOR.example.com/")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ch.Domain != "emisor.example.com" {
		t.Fatalf("domain not normalized: %q", ch.Domain)
	}
	if ch.ExpiresAt-ch.Timestamp != int64((5 * time.Minute).Seconds()) {
		t.Fatalf("unexpected ttl window: %d", ch.ExpiresAt-ch.Timestamp)
	}

	res, err := fx.auth.Respond(ctx, "emisor.example.com", signChallenge(t, ch, pa.PrivatePEM))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Session.Domain != "emisor.example.com" || res.Session.Fingerprint != pa.Fingerprint {
		t.Fatalf("bad session: %+v", res.Session)
	}
	if res.Token == "" {
		t.Fatal("expected session token")
	}
	id, err := fx.auth.tokens.SessionID(res.Token)
	if err != nil || id != res.Session.ID {
		t.Fatalf("token round trip: id=%q err=%v", id, err)
	}

	ok, err := fx.auth.IsAuthenticated(ctx, res.Session.ID)
	if err != nil || !ok {
		t.Fatalf("want authenticated, got ok=%v err=%v", ok, err)
	}
}

func TestChallengeSingleUse(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "once.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "once.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sig := signChallenge(t, ch, pa.PrivatePEM)
	if _, err := fx.auth.Respond(ctx, "once.example.com", sig); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if _, err := fx.auth.Respond(ctx, "once.example.com", sig); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("want ErrNoActiveChallenge on replay, got %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "tarde.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "tarde.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sig := signChallenge(t, ch, pa.PrivatePEM)

	fx.advance(6 * time.Minute)
	if _, err := fx.auth.Respond(ctx, "tarde.example.com", sig); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("want ErrChallengeExpired, got %v", err)
	}
	// el expirado queda eliminado, no reutilizable
	if _, err := fx.auth.Respond(ctx, "tarde.example.com", sig); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("want ErrNoActiveChallenge after expiry delete, got %v", err)
	}
}

func TestChallengeSupersede(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "doble.example.com", pa.PublicPEM)
	ctx := context.Background()

	first, err := fx.auth.Issue(ctx, "doble.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := fx.auth.Issue(ctx, "doble.example.com"); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	// la firma del challenge reemplazado ya no sirve
	sig := signChallenge(t, first, pa.PrivatePEM)
	if _, err := fx.auth.Respond(ctx, "doble.example.com", sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature for superseded challenge, got %v", err)
	}
}

func TestRespondWrongKey(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, pb := testPairs(t)
	fx.txt.publish(t, "ajeno.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "ajeno.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sig := signChallenge(t, ch, pb.PrivatePEM)
	if _, err := fx.auth.Respond(ctx, "ajeno.example.com", sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

func TestSessionRecheckInvalidatesOnRotation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, pb := testPairs(t)
	fx.txt.publish(t, "rota.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "rota.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res, err := fx.auth.Respond(ctx, "rota.example.com", signChallenge(t, ch, pa.PrivatePEM))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	// el dominio rota su clave publicada
	fx.txt.publish(t, "rota.example.com", pb.PublicPEM)

	// dentro de la ventana de recheck el estado conocido se mantiene
	ok, err := fx.auth.IsAuthenticated(ctx, res.Session.ID)
	if err != nil || !ok {
		t.Fatalf("inside recheck window: ok=%v err=%v", ok, err)
	}

	fx.advance(6 * time.Minute)
	ok, err = fx.auth.IsAuthenticated(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if ok {
		t.Fatal("session must be invalidated after key rotation")
	}
	// invalidada de verdad: la sesión fue eliminada
	if ok, _ := fx.auth.IsAuthenticated(ctx, res.Session.ID); ok {
		t.Fatal("invalidated session must stay invalid")
	}
}

func TestSessionRecheckToleratesLookupFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "flaky.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "flaky.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res, err := fx.auth.Respond(ctx, "flaky.example.com", signChallenge(t, ch, pa.PrivatePEM))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	fx.txt.setFail(true)
	fx.advance(6 * time.Minute)
	ok, err := fx.auth.IsAuthenticated(ctx, res.Session.ID)
	if err != nil || !ok {
		t.Fatalf("transient lookup failure must not invalidate: ok=%v err=%v", ok, err)
	}

	// al volver el DNS con la misma clave, sigue autenticado
	fx.txt.setFail(false)
	ok, err = fx.auth.IsAuthenticated(ctx, res.Session.ID)
	if err != nil || !ok {
		t.Fatalf("after recovery: ok=%v err=%v", ok, err)
	}
}

func TestRenew(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "renueva.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "renueva.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res, err := fx.auth.Respond(ctx, "renueva.example.com", signChallenge(t, ch, pa.PrivatePEM))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	fx.advance(2 * time.Hour)
	renewed, err := fx.auth.Renew(ctx, res.Session.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.ExpiresAt <= res.Session.ExpiresAt {
		t.Fatalf("renew must extend expiry: %d <= %d", renewed.ExpiresAt, res.Session.ExpiresAt)
	}

	fx.advance(13 * time.Hour)
	if _, err := fx.auth.Renew(ctx, res.Session.ID); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("want ErrSessionInvalid for expired session, got %v", err)
	}
}

func TestTokenExpiresWithSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pa, _ := testPairs(t)
	fx.txt.publish(t, "caduca.example.com", pa.PublicPEM)
	ctx := context.Background()

	ch, err := fx.auth.Issue(ctx, "caduca.example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res, err := fx.auth.Respond(ctx, "caduca.example.com", signChallenge(t, ch, pa.PrivatePEM))
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	// el token valida contra el mismo reloj que emitió la sesión
	if id, err := fx.auth.tokens.SessionID(res.Token); err != nil || id != res.Session.ID {
		t.Fatalf("fresh token: id=%q err=%v", id, err)
	}
	fx.advance(13 * time.Hour)
	if _, err := fx.auth.tokens.SessionID(res.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken past session expiry, got %v", err)
	}
}

func TestRespondWithoutChallenge(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	if _, err := fx.auth.Respond(context.Background(), "nadie.example.com", "c2ln"); !errors.Is(err, ErrNoActiveChallenge) {
		t.Fatalf("want ErrNoActiveChallenge, got %v", err)
	}
}
