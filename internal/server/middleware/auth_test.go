package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubClaims string

func (s stubClaims) GetOperator() string { return string(s) }

type stubValidator struct {
	valid string
}

func (v *stubValidator) ValidateToken(tokenString string) (OperatorGetter, error) {
	if tokenString == v.valid {
		return stubClaims("jonathan"), nil
	}
	return nil, fmt.Errorf("invalid token")
}

func protected() (http.Handler, *string) {
	var operator string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return Auth(&stubValidator{valid: "good-token"})(h), &operator
}

func TestAuthAcceptsValidBearerToken(t *testing.T) {
	h, operator := protected()

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jonathan", *operator)
}

func TestAuthPrefixIsCaseInsensitive(t *testing.T) {
	h, _ := protected()

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRejections(t *testing.T) {
	h, _ := protected()

	for name, header := range map[string]string{
		"missing header": "",
		"no bearer":      "good-token",
		"wrong scheme":   "Basic good-token",
		"bad token":      "Bearer wrong-token",
		"empty token":    "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
