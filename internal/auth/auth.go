package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleBuyer    Role = "user"
	RoleOperator Role = "admin"
)

type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (i Identity) Authenticated() bool { return i.UserID != "" }

func (i Identity) IsOperator() bool { return i.Authenticated() && i.Role == RoleOperator }

var ErrUnauthorized = errors.New("not authorized to access this route")

// Gateway verifies a bearer credential.
type Gateway interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HS256 tokens carrying the user id in "sub" and the
// role in "role".
type JWT struct {
	secret []byte
	issuer string
}

func NewJWT(secret, issuer string) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer}
}

func (j *JWT) Verify(_ context.Context, credential string) (Identity, error) {
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithLeeway(30 * time.Second), // small clock skew
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	role := c.Role
	if role == "" {
		role = RoleBuyer
	}
	return Identity{UserID: c.Subject, Role: role}, nil
}

func (j *JWT) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.Authenticated()
}

// Protect rejects requests without a valid bearer token and stores the
// verified identity in the request context.
func Protect(gw Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				deny(w, http.StatusUnauthorized, "invalid_request", "missing bearer token")
				return
			}
			id, err := gw.Verify(r.Context(), strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid_token", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Operator only lets operator identities through. Use after Protect.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromContext(r.Context())
		if !id.IsOperator() {
			deny(w, http.StatusForbidden, "insufficient_scope", "not authorized as admin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, code int, errCode, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+errCode+`", error_description="`+desc+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "message": desc})
}
