package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// IdentityProvider runs the external login flow. The core only ever sees
// the Assertion it produces.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Assertion, error)
}

// GoogleProvider implements IdentityProvider against Google's OAuth2 and
// OpenID Connect userinfo endpoints.
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

type GoogleOption func(*GoogleProvider)

// WithEndpoint points the provider at a different authorization server.
func WithEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(p *GoogleProvider) {
		p.cfg.Endpoint = ep
	}
}

func WithUserInfoURL(u string) GoogleOption {
	return func(p *GoogleProvider) {
		if u != "" {
			p.userInfoURL = u
		}
	}
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "profile", "email"},
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the authorization code for a token and fetches the
// caller's profile. Unverified addresses are refused since accounts are
// linked by email.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (Assertion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Assertion{}, fmt.Errorf("%w: missing authorization code", ErrUpstream)
	}
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: exchange code: %w", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: build userinfo request: %w", ErrUpstream, err)
	}
	resp, err := p.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: fetch userinfo: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Assertion{}, fmt.Errorf("%w: userinfo status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return Assertion{}, fmt.Errorf("%w: decode userinfo: %w", ErrUpstream, err)
	}
	if info.Sub == "" || info.Email == "" {
		return Assertion{}, fmt.Errorf("%w: userinfo missing subject or email", ErrUpstream)
	}
	if !info.EmailVerified {
		return Assertion{}, fmt.Errorf("%w: email %s is not verified", ErrUpstream, info.Email)
	}
	return Assertion{
		SubjectID: info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		Picture:   info.Picture,
	}, nil
}
