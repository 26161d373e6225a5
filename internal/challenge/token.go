package challenge

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("challenge: invalid token")

// TokenIssuer emite tokens de sesión HS256 como representación portable de
// una sesión. El token es un puntero firmado a la sesión persistida: la
// validación real (recheck DNS, expiración) siempre pasa por el Repository.
type TokenIssuer struct {
	secret []byte
	iss    string
	now    func() time.Time
}

type TokenOption func(*TokenIssuer)

// WithTokenClock inyecta el reloj (tests).
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) { t.now = now }
}

func NewTokenIssuer(secret, iss string, opts ...TokenOption) *TokenIssuer {
	t := &TokenIssuer{secret: []byte(secret), iss: iss, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mint firma un token que referencia la sesión por ID.
func (t *TokenIssuer) Mint(sess *Session) (string, error) {
	claims := jwtv5.MapClaims{
		"iss": t.iss,
		"sub": sess.ID,
		"dom": sess.Domain,
		"fpr": sess.Fingerprint,
		"iat": sess.CreatedAt,
		"exp": sess.ExpiresAt,
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(t.secret)
}

// SessionID valida firma y expiración y devuelve el ID de sesión referido.
func (t *TokenIssuer) SessionID(token string) (string, error) {
	tok, err := jwtv5.Parse(token, func(*jwtv5.Token) (any, error) {
		return t.secret, nil
	}, jwtv5.WithValidMethods([]string{"HS256"}), jwtv5.WithTimeFunc(t.now))
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if t.iss != "" {
		if iss, _ := claims["iss"].(string); iss != t.iss {
			return "", ErrInvalidToken
		}
	}
	if expf, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(expf), 0).Before(t.now().Add(-30 * time.Second)) {
			return "", ErrInvalidToken
		}
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
