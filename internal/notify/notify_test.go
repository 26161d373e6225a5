package notify

import (
	"strings"
	"testing"
)

type fakeSender struct {
	to      []string
	subject []string
	text    []string
	err     error
}

func (f *fakeSender) Send(to, subject, _ string, textBody string) error {
	f.to = append(f.to, to)
	f.subject = append(f.subject, subject)
	f.text = append(f.text, textBody)
	return f.err
}

func TestAttestationIssued(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	n := New(fs)

	n.AttestationIssued("persona@example.com", "empresa.example.com", "att-0001")
	if len(fs.to) != 1 || fs.to[0] != "persona@example.com" {
		t.Fatalf("to = %v", fs.to)
	}
	if !strings.Contains(fs.text[0], "att-0001") || !strings.Contains(fs.subject[0], "empresa.example.com") {
		t.Fatalf("mensaje incompleto: %q / %q", fs.subject[0], fs.text[0])
	}

	// sin destinatario no se envía nada
	n.AttestationIssued("", "empresa.example.com", "att-0002")
	if len(fs.to) != 1 {
		t.Fatalf("sent without recipient: %v", fs.to)
	}
}

func TestDomainAuthenticated(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	n := New(fs)

	n.DomainAuthenticated("admin@empresa.example.com", "empresa.example.com")
	if len(fs.to) != 1 || fs.to[0] != "admin@empresa.example.com" {
		t.Fatalf("to = %v", fs.to)
	}
	if !strings.Contains(fs.text[0], "rotate the key") {
		t.Fatalf("aviso sin instrucción de rotación: %q", fs.text[0])
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	t.Parallel()
	var n *Notifier
	// no debe panicar
	n.AttestationIssued("a@b.example", "b.example", "att-0003")
	n.DomainAuthenticated("a@b.example", "b.example")
}
