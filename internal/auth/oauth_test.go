package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGitHub serves the token endpoint and the two API calls Exchange makes.
func fakeGitHub(t *testing.T, userJSON string) *GitHubProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.Write([]byte(userJSON))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"email":"old@example.com","primary":false,"verified":true},
			{"email":"octo@example.com","primary":true,"verified":true}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/login/oauth/authorize",
		TokenURL: srv.URL + "/login/oauth/access_token",
	}
	p.apiBase = srv.URL
	return p
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost/cb")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
}

func TestGitHubProvider_ExchangeFetchesPrimaryEmail(t *testing.T) {
	p := fakeGitHub(t, `{"id":42,"login":"octo","name":"","email":"","avatar_url":"https://a/42"}`)

	user, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "octo@example.com", user.Email)
	assert.Equal(t, "octo", user.DisplayName())
}

func TestGitHubProvider_ExchangeRejectsZeroID(t *testing.T) {
	p := fakeGitHub(t, `{"id":0,"login":"ghost"}`)

	_, err := p.Exchange(context.Background(), "code")
	assert.Error(t, err)
}
