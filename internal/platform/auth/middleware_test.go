package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: subject + "@clinic.example",
	}
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/patients", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("doc-123"), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var uid, email string
	handler := func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		email = EmailFromContext(c.Request().Context())
		return nil
	}

	if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "doc-123" {
		t.Errorf("expected subject doc-123, got %q", uid)
	}
	if email != "doc-123@clinic.example" {
		t.Errorf("expected email claim, got %q", email)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("doc-123")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("doc-123"), []byte("some-other-key-entirely-different"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := validClaims("doc-123")
	claims.Issuer = "https://other.example"
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://clerk.example"}
	err := JWTMiddleware(cfg)(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WebSocketQueryToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("doc-ws"), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/dictation?token="+tokenStr, nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var uid string
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "doc-ws" {
		t.Errorf("expected doc-ws, got %q", uid)
	}
}

func TestJWTMiddleware_QueryTokenIgnoredOutsideWebSocket(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("doc-1"), testSigningKey)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients?token="+tokenStr, nil), httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	e.Use(JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}))
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for public path, got %d", rec.Code)
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	jwks := JWKSResponse{Keys: []JWKSKey{{
		Kty: "RSA",
		Kid: "key-1",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("doc-rsa"))
	tok.Header["kid"] = "key-1"
	tokenStr, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var uid string
	err = JWTMiddleware(JWTConfig{JWKSURL: srv.URL})(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "doc-rsa" {
		t.Errorf("expected doc-rsa, got %q", uid)
	}
}

func TestResolveJWKSURL(t *testing.T) {
	if got := ResolveJWKSURL("https://clerk.example/", ""); got != "https://clerk.example/.well-known/jwks.json" {
		t.Errorf("unexpected derived url %q", got)
	}
	if got := ResolveJWKSURL("https://clerk.example", "https://keys.example/jwks"); got != "https://keys.example/jwks" {
		t.Errorf("explicit url should win, got %q", got)
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), httptest.NewRecorder())

	var uid string
	err := DevAuthMiddleware(nil)(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != DevClinicianID {
		t.Errorf("expected %s, got %q", DevClinicianID, uid)
	}
}

func TestDevAuthMiddleware_VerifiesPresentedToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("doc-real"), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var uid string
	mw := DevAuthMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}))
	err := mw(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "doc-real" {
		t.Errorf("expected doc-real, got %q", uid)
	}
}

func TestDoctorID(t *testing.T) {
	ctx := WithClinician(context.Background(), "doc-1", "")
	if got, err := DoctorID(ctx, ""); err != nil || got != "doc-1" {
		t.Errorf("expected fallback to subject, got %q, %v", got, err)
	}
	if got, err := DoctorID(ctx, " doc-2 "); err != nil || got != "doc-2" {
		t.Errorf("expected explicit id for an unverified identity, got %q, %v", got, err)
	}
	if got, err := DoctorID(context.Background(), ""); err != nil || got != "" {
		t.Errorf("expected empty id, got %q, %v", got, err)
	}
}

func TestDoctorID_VerifiedSubjectIsBinding(t *testing.T) {
	ctx := WithVerifiedClinician(context.Background(), "doc-1", "")

	if got, err := DoctorID(ctx, "doc-1"); err != nil || got != "doc-1" {
		t.Errorf("expected own id accepted, got %q, %v", got, err)
	}
	if got, err := DoctorID(ctx, ""); err != nil || got != "doc-1" {
		t.Errorf("expected fallback to subject, got %q, %v", got, err)
	}
	_, err := DoctorID(ctx, "doc-2")
	if err != ErrForeignDoctor {
		t.Fatalf("expected ErrForeignDoctor, got %v", err)
	}
	expectStatus(t, err, http.StatusForbidden)
}

func TestJWTMiddleware_MarksIdentityVerified(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients?doctorId=doc-other", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims("doc-real"), testSigningKey))
	c := e.NewContext(req, httptest.NewRecorder())

	var scopeErr error
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		_, scopeErr = DoctorID(c.Request().Context(), c.QueryParam("doctorId"))
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scopeErr != ErrForeignDoctor {
		t.Errorf("expected ErrForeignDoctor for a foreign doctorId, got %v", scopeErr)
	}
}
