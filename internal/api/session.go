package api

import (
	"context"
	"net/http"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

func (t tokenResponse) value() string {
	if t.AccessToken != "" {
		return t.AccessToken
	}
	return t.Token
}

// Login exchanges email and password for a local access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	return c.exchange(ctx, "/api/auth/login", email, password)
}

// Register creates a local account and returns its access token.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	return c.exchange(ctx, "/api/auth/register", email, password)
}

func (c *Client) exchange(ctx context.Context, path, email, password string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, path, nil, credentials{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.value() == "" {
		return "", apperrors.NewShapeError(path, apperrors.New("response carries no access token"))
	}
	return resp.value(), nil
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &p); err != nil {
		if apperrors.StatusCode(err) == http.StatusUnauthorized {
			return nil, apperrors.Wrap(apperrors.ErrNotAuthenticated, err.Error())
		}
		return nil, err
	}
	return &p, nil
}
