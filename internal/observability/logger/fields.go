package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar HTTP.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Campos de negocio.

// Domain crea un campo para el dominio de una identidad.
func Domain(v string) zap.Field { return zap.String("domain", v) }

// FingerprintField crea un campo para el fingerprint de una clave pública.
func FingerprintField(v string) zap.Field { return zap.String("fingerprint", v) }

// AttestationID crea un campo para el id de una atestación.
func AttestationID(v string) zap.Field { return zap.String("attestation_id", v) }

// SessionID crea un campo para el id de sesión.
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// Campos de sistema.

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// Campos genéricos.

func Count(v int) zap.Field          { return zap.Int("count", v) }
func Key(v string) zap.Field         { return zap.String("key", v) }
func String(k, v string) zap.Field   { return zap.String(k, v) }
func Int(k string, v int) zap.Field  { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Any(k string, v any) zap.Field   { return zap.Any(k, v) }
