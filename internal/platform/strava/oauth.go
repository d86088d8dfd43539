package strava

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	authURL  = "https://www.strava.com/oauth/authorize"
	tokenURL = "https://www.strava.com/oauth/token"
)

// tokenSource wraps oauth2.TokenSource with persistence. Strava access
// tokens live six hours; whenever a refresh happens the new pair is pushed
// back into .app_config.json through the persist callback.
type tokenSource struct {
	config  *oauth2.Config
	token   *oauth2.Token
	persist func(*oauth2.Token) error
	mu      sync.Mutex
}

func newTokenSource(clientID, clientSecret, refreshToken, accessToken string, persist func(*oauth2.Token) error) *tokenSource {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
	return &tokenSource{
		config: cfg,
		token: &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			// Expiry in the past forces a refresh on first use when only a
			// refresh token is configured.
			Expiry: time.Now().Add(-time.Minute),
		},
		persist: persist,
	}
}

// Token returns a valid token, refreshing if necessary.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	// 60s buffer before expiry
	if ts.token.AccessToken != "" && time.Until(ts.token.Expiry) > 60*time.Second {
		return ts.token, nil
	}

	src := ts.config.TokenSource(context.Background(), ts.token)
	newToken, err := src.Token()
	if err != nil {
		return nil, err
	}

	if ts.persist != nil {
		if err := ts.persist(newToken); err != nil {
			return nil, err
		}
	}

	ts.token = newToken
	return newToken, nil
}
