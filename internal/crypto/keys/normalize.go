package keys

import (
	"regexp"
	"strings"
)

var armorRe = regexp.MustCompile(`-----BEGIN ([A-Z0-9 ]+)-----([\s\S]*?)-----END ([A-Z0-9 ]+)-----`)

// Normalize repara defectos comunes de claves copiadas a mano por text boxes:
// BOM, CRLF, "\n" literales, y cuerpo base64 des-envuelto o con espacios.
// Es idempotente: Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := strings.TrimPrefix(raw, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.TrimSpace(s)

	m := armorRe.FindStringSubmatch(s)
	if m == nil || m[1] != m[3] {
		// sin armadura reconocible no hay nada que reparar
		return s
	}
	label := m[1]

	// separar líneas de header PEM ("K: v") del cuerpo base64
	var headers []string
	var body strings.Builder
	for _, line := range strings.Split(m[2], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, ":") {
			headers = append(headers, line)
			continue
		}
		for _, r := range line {
			if r == ' ' || r == '\t' {
				continue
			}
			body.WriteRune(r)
		}
	}
	b := body.String()

	var out strings.Builder
	out.WriteString("-----BEGIN " + label + "-----\n")
	for _, h := range headers {
		out.WriteString(h)
		out.WriteByte('\n')
	}
	if len(headers) > 0 {
		out.WriteByte('\n') // separador header/cuerpo requerido por PEM
	}
	for len(b) > 64 {
		out.WriteString(b[:64])
		out.WriteByte('\n')
		b = b[64:]
	}
	if len(b) > 0 {
		out.WriteString(b)
		out.WriteByte('\n')
	}
	out.WriteString("-----END " + label + "-----\n")
	return out.String()
}
