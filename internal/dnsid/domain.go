package dnsid

import (
	"regexp"
	"strings"
)

var domainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// NormalizeDomain limpia lo que la gente pega en formularios: esquema,
// "www.", path, puerto, mayúsculas, punto final. Retorna ErrBadDomain si lo
// que queda no es un dominio sintácticamente válido.
func NormalizeDomain(raw string) (string, error) {
	d := strings.TrimSpace(strings.ToLower(raw))
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")
	if !domainRe.MatchString(d) {
		return "", ErrBadDomain
	}
	return d, nil
}
