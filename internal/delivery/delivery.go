// Package delivery entrega documentos de attestation firmados al endpoint de
// callback de un dominio. El dominio receptor puede exponer el callback en
// varias rutas conocidas: se intentan en orden y gana la primera respuesta 2xx.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ma13w/cverify/internal/dnsid"
	"github.com/ma13w/cverify/internal/observability/logger"
)

// ErrUnreachable indica que ningún candidato aceptó el documento.
// Reintentable: el receptor puede estar caído temporalmente.
var ErrUnreachable = errors.New("delivery: no callback endpoint accepted the document")

// DefaultCallbackPaths son las rutas de callback que un dominio receptor
// puede exponer, en orden de preferencia.
var DefaultCallbackPaths = []string{
	"/cverify/callback.php",
	"/cverify/callback",
	"/api/cverify/callback",
}

// Courier entrega documentos JSON por HTTPS a dominios receptores.
type Courier struct {
	http     *http.Client
	paths    []string
	insecure bool // http:// en lugar de https://, sólo para tests
}

type Option func(*Courier)

func WithTimeout(d time.Duration) Option {
	return func(c *Courier) { c.http.Timeout = d }
}

func WithCallbackPaths(paths []string) Option {
	return func(c *Courier) {
		if len(paths) > 0 {
			c.paths = paths
		}
	}
}

// WithPlainHTTP desactiva TLS en las URLs candidatas (tests contra httptest).
func WithPlainHTTP() Option {
	return func(c *Courier) { c.insecure = true }
}

func New(opts ...Option) *Courier {
	c := &Courier{
		http:  &http.Client{Timeout: 15 * time.Second},
		paths: DefaultCallbackPaths,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result reporta dónde aterrizó el documento.
type Result struct {
	Endpoint string
	Status   int
}

// Deliver envía el documento al primer endpoint del dominio que responda 2xx.
// Los candidatos se prueban en orden; errores de conexión y status no-2xx
// pasan al siguiente. Si ninguno acepta, ErrUnreachable.
func (c *Courier) Deliver(ctx context.Context, domain string, document any) (*Result, error) {
	d := domain
	if !c.insecure {
		var err error
		if d, err = dnsid.NormalizeDomain(domain); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("delivery: encode document: %w", err)
	}

	scheme := "https"
	if c.insecure {
		scheme = "http"
	}

	log := logger.From(ctx)
	var lastErr error
	for _, p := range c.paths {
		endpoint := fmt.Sprintf("%s://%s%s", scheme, d, p)
		status, err := c.post(ctx, endpoint, body)
		if err != nil {
			lastErr = err
			log.Debug("delivery candidate failed", logger.String("endpoint", endpoint), logger.Err(err))
			continue
		}
		if status >= 200 && status < 300 {
			log.Info("document delivered",
				logger.Domain(d), logger.String("endpoint", endpoint), logger.Status(status))
			return &Result{Endpoint: endpoint, Status: status}, nil
		}
		lastErr = fmt.Errorf("%s returned %d", endpoint, status)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	return nil, ErrUnreachable
}

func (c *Courier) post(ctx context.Context, endpoint string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cverify-courier/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// drenar para reusar la conexión
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}
