// Package notify envía avisos por correo cuando se emite un attestation o
// se completa una autenticación. Best-effort: un fallo de SMTP se loguea y
// nunca bloquea el flujo del protocolo.
package notify

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/ma13w/cverify/internal/observability/logger"
)

type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		TLSMode: "auto",
	}
}

func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative (txt + html) cuando hay ambos
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // sólo dev
	}

	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Notifier arma los mensajes del dominio cverify sobre un Sender.
// Un Notifier nil es válido y no hace nada.
type Notifier struct {
	sender Sender
}

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// AttestationIssued avisa al sujeto que una empresa emitió un attestation.
func (n *Notifier) AttestationIssued(to, issuerDomain, attestationID string) {
	if n == nil || n.sender == nil || to == "" {
		return
	}
	subject := fmt.Sprintf("Attestation issued by %s", issuerDomain)
	text := fmt.Sprintf(
		"The domain %s issued a signed work-experience attestation (id %s).\n"+
			"You can verify it at any time against the issuer's DNS-published key.\n",
		issuerDomain, attestationID)
	if err := n.sender.Send(to, subject, "", text); err != nil {
		logger.L().Warn("attestation notification failed",
			logger.Domain(issuerDomain), logger.AttestationID(attestationID), logger.Err(err))
	}
}

// DomainAuthenticated avisa al contacto del dominio que alguien completó un
// challenge en su nombre. Señal de auditoría contra challenges no esperados.
func (n *Notifier) DomainAuthenticated(to, domain string) {
	if n == nil || n.sender == nil || to == "" {
		return
	}
	subject := fmt.Sprintf("Successful challenge-response authentication for %s", domain)
	text := fmt.Sprintf(
		"A challenge for %s was answered with a valid signature.\n"+
			"If this was not you, rotate the key published in your DNS TXT records.\n",
		domain)
	if err := n.sender.Send(to, subject, "", text); err != nil {
		logger.L().Warn("auth notification failed", logger.Domain(domain), logger.Err(err))
	}
}
