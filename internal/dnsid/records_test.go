package dnsid

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ma13w/cverify/internal/crypto/keys"
)

var (
	kpOnce sync.Once
	kp     *keys.KeyPair
)

func testPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kpOnce.Do(func() {
		p, err := keys.Generate(2048, "")
		if err != nil {
			t.Fatalf("Generate err: %v", err)
		}
		kp = p
	})
	return kp
}

func TestIdentityRecord(t *testing.T) {
	t.Parallel()
	rec := IdentityRecord("abc123")
	if rec != "cverify-id=abc123" {
		t.Fatalf("got %q", rec)
	}
	if len(rec) > 255 {
		t.Fatal("identity record exceeds TXT limit")
	}
}

func TestKeyRecords_WithinLimitAndReversible(t *testing.T) {
	p := testPair(t)
	records, err := KeyRecords(p.PublicPEM)
	if err != nil {
		t.Fatalf("KeyRecords err: %v", err)
	}
	// una clave RSA-2048 no entra en un TXT: esperamos chunks indexados
	if len(records) < 2 {
		t.Fatalf("expected chunked records, got %d", len(records))
	}
	for i, rec := range records {
		if len(rec) > 255 {
			t.Fatalf("record %d exceeds 255 bytes: %d", i, len(rec))
		}
		if !strings.HasPrefix(rec, TagPubKey) {
			t.Fatalf("record %d missing tag: %q", i, rec)
		}
	}

	// round-trip: reensamblar reconstruye la codificación exacta
	pem, err := reassembleKey(records)
	if err != nil {
		t.Fatalf("reassembleKey err: %v", err)
	}
	if pem != keys.Normalize(p.PublicPEM) {
		t.Fatalf("reassembled key differs from original:\n%q\n%q", pem, keys.Normalize(p.PublicPEM))
	}
}

// splitBody arma registros sintéticos con n chunks a partir de una clave real.
func splitBody(t *testing.T, n int) []string {
	t.Helper()
	body, err := stripArmor(testPair(t).PublicPEM)
	if err != nil {
		t.Fatal(err)
	}
	if n == 1 {
		return []string{TagPubKey + body}
	}
	size := (len(body) + n - 1) / n
	var recs []string
	for i := 0; len(body) > 0; i++ {
		end := size
		if end > len(body) {
			end = len(body)
		}
		recs = append(recs, TagPubKey+strconv.Itoa(i)+"."+body[:end])
		body = body[end:]
	}
	return recs
}

func TestReassembleKey_ChunkCounts(t *testing.T) {
	p := testPair(t)
	want := keys.Normalize(p.PublicPEM)

	for _, n := range []int{1, 2, 5, 7} {
		recs := splitBody(t, n)
		// desordenar: el reensamblado ordena por índice numérico
		if len(recs) > 1 {
			recs[0], recs[len(recs)-1] = recs[len(recs)-1], recs[0]
		}
		pem, err := reassembleKey(recs)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if pem != want {
			t.Fatalf("n=%d: reassembled key mismatch", n)
		}
	}
}

func TestReassembleKey_CorruptAndAmbiguous(t *testing.T) {
	recs := splitBody(t, 2)

	// chunk faltante => clave corrupta
	if _, err := reassembleKey(recs[:1]); !errors.Is(err, ErrCorruptKey) {
		t.Fatalf("want ErrCorruptKey for missing chunk, got %v", err)
	}

	// mezcla de registros con y sin índice => ambiguo
	mixed := append([]string{TagPubKey + "AAAA"}, recs...)
	if _, err := reassembleKey(mixed); !errors.Is(err, ErrCorruptKey) {
		t.Fatalf("want ErrCorruptKey for ambiguous mix, got %v", err)
	}

	// sin registros de clave => ausencia, no error
	pem, err := reassembleKey([]string{"otra-cosa=x"})
	if err != nil || pem != "" {
		t.Fatalf("absence should be empty result: %q %v", pem, err)
	}
}
