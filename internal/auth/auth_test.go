package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/config"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer test-key", want: "test-key"},
		{name: "trailing space", header: "Bearer  padded ", want: "padded"},
		{name: "missing", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "blank", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateScopes(t *testing.T) {
	t.Parallel()

	tokens := []config.APIToken{
		{Name: "ops", Token: "admin-token", Scopes: []string{"admin"}},
		{Name: "agent", Token: "complete-token", Scopes: []string{" Complete "}},
		{Name: "bot", Token: "dispatch-token", Scopes: []string{"dispatch"}},
	}

	p, ok := Authenticate("admin-token", tokens)
	require.True(t, ok)
	assert.Equal(t, "ops", p.Name)
	assert.True(t, HasAnyScope(p, ScopeComplete))
	assert.True(t, HasAnyScope(p, ScopeRead))

	p, ok = Authenticate("complete-token", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeComplete))
	assert.False(t, HasAnyScope(p, ScopeRead))
	assert.False(t, HasAnyScope(p, ScopeAdmin))

	p, ok = Authenticate("dispatch-token", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeRead))
	assert.False(t, HasAnyScope(p, ScopeComplete))

	_, ok = Authenticate("nope", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", []config.APIToken{{Name: "empty"}})
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(httptest.NewRequest(http.MethodGet, "/", nil).Context(), Principal{Name: "x"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", p.Name)
	assert.True(t, HasAnyScope(p))
}
