package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/service"
)

type authenticatorFunc func(ctx context.Context, token string) (model.Principal, error)

func (f authenticatorFunc) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	return f(ctx, token)
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, origin := range []string{"http://localhost:5173", "http://localhost:3000"} {
		t.Run(origin, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS([]string{"http://localhost:5173", "http://localhost:3000"}))
			r.OPTIONS("/api/contracts", func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodOptions, "/api/contracts", nil)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func newAuthRouter(authenticator Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Auth(authenticator, zerolog.Nop()))
	r.GET("/me", func(c *gin.Context) {
		principal, ok := MustPrincipal(c)
		if !ok {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": principal.UserID, "request_id": RequestIDFrom(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	authenticator := authenticatorFunc(func(_ context.Context, token string) (model.Principal, error) {
		switch token {
		case "good":
			return model.Principal{UserID: 7}, nil
		case "pending":
			return model.Principal{}, &service.Error{Kind: service.ErrPermissionDenied, Message: "pending", Detail: "account pending approval"}
		case "broken":
			return model.Principal{}, errors.New("db down")
		default:
			return model.Principal{}, &service.Error{Kind: service.ErrUnauthorized, Message: "bad", Detail: "invalid token"}
		}
	})
	r := newAuthRouter(authenticator)

	tests := []struct {
		header     string
		wantStatus int
		wantRevoke bool
	}{
		{header: "Bearer good", wantStatus: http.StatusOK},
		{header: "bearer good", wantStatus: http.StatusOK},
		{header: "", wantStatus: http.StatusUnauthorized, wantRevoke: true},
		{header: "Basic abc", wantStatus: http.StatusUnauthorized, wantRevoke: true},
		{header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantRevoke: true},
		{header: "Bearer pending", wantStatus: http.StatusForbidden},
		{header: "Bearer broken", wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.header), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantRevoke {
				assert.Equal(t, true, body["revoke_auth"])
			} else {
				assert.NotContains(t, body, "revoke_auth")
			}
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newAuthRouter(authenticatorFunc(func(context.Context, string) (model.Principal, error) {
		return model.Principal{UserID: 1}, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-1"`)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}
