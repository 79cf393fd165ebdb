package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		name       string
		origins    string
		production bool
		want       []string
		wantErr    error
	}{
		{name: "dev default", origins: "", want: []string{"*"}},
		{name: "dev wildcard", origins: "*", want: []string{"*"}},
		{name: "list", origins: " https://a.example.com, ,https://b.example.com ", production: true,
			want: []string{"https://a.example.com", "https://b.example.com"}},
		{name: "production unset", origins: "", production: true, wantErr: ErrOriginsRequired},
		{name: "production wildcard", origins: "*", production: true, wantErr: ErrWildcardOrigin},
		{name: "production wildcard in list", origins: "https://a.example.com,*", production: true, wantErr: ErrWildcardOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := allowedOrigins(tt.origins, tt.production)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SetupCORS("*", true)
	assert.ErrorIs(t, err, ErrWildcardOrigin)
}

func TestSetupCORS_AllowsSessionHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw, err := SetupCORS("https://portal.example.com", true)
	require.NoError(t, err)

	r := gin.New()
	r.Use(mw)
	r.PUT("/api/v1/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users/1", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", SessionHeader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	allowed := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, allowed, strings.ToLower(SessionHeader))
}
