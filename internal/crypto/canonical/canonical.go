// Package canonical serializa valores estructurados a una forma canónica de
// bytes y firma/verifica sobre ella. La invariante central: el mismo valor
// lógico siempre canonicaliza a los mismos bytes, sin importar el orden de
// construcción de los maps. Eso es lo que hace posible que un tercero
// re-verifique una firma de forma independiente.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyPayload indica un valor sin campos; firmar nada no tiene sentido.
var ErrEmptyPayload = errors.New("canonical: empty payload")

// Marshal produce la forma canónica: claves ordenadas lexicográficamente en
// todos los niveles, sin whitespace, Unicode y "/" sin escapar.
func Marshal(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, ErrEmptyPayload
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeJSON(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSON(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []map[string]any:
		arr := make([]any, len(t))
		for i := range t {
			arr[i] = t[i]
		}
		return encodeValue(buf, arr)
	case []string:
		arr := make([]any, len(t))
		for i := range t {
			arr[i] = t[i]
		}
		return encodeValue(buf, arr)
	default:
		// números y cualquier otro escalar: delegar al encoder estándar
		return encodeJSON(buf, v)
	}
	return nil
}

// encodeJSON escribe v como JSON compacto sin HTML escaping (conserva "/",
// Unicode tal cual).
func encodeJSON(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("canonical: encode %T: %w", v, err)
	}
	b := bytes.TrimRight(tmp.Bytes(), "\n")
	buf.Write(b)
	return nil
}
