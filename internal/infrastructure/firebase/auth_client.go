package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"

	"topicmeet/internal/domain/service"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1"

type FirebaseAuthClient struct {
	client     *auth.Client
	apiKey     string
	httpClient *http.Client
	endpoint   string
}

type SignInResult struct {
	UID          string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

func NewFirebaseAuthClient(client *auth.Client, apiKey string) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client:     client,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   identityToolkitURL,
	}
}

func (f *FirebaseAuthClient) CreateUser(ctx context.Context, email, password, displayName string) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		DisplayName(displayName)

	user, err := f.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return "", fmt.Errorf("%w: %v", service.ErrEmailExists, err)
		}
		return "", err
	}

	return user.UID, nil
}

func (f *FirebaseAuthClient) DeleteUser(ctx context.Context, uid string) error {
	return f.client.DeleteUser(ctx, uid)
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", service.ErrInvalidToken, err)
	}

	return result.UID, nil
}

// RevokeRefreshTokens signs the user out of every device.
func (f *FirebaseAuthClient) RevokeRefreshTokens(ctx context.Context, uid string) error {
	return f.client.RevokeRefreshTokens(ctx, uid)
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type identityError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithEmailPassword exchanges credentials for an ID token through the
// Identity Toolkit REST API; the Admin SDK cannot check passwords.
func (f *FirebaseAuthClient) SignInWithEmailPassword(ctx context.Context, email, password string) (*SignInResult, error) {
	body, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/accounts:signInWithPassword?key=%s", f.endpoint, f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrAuthNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ie identityError
		if err := json.NewDecoder(resp.Body).Decode(&ie); err != nil {
			return nil, fmt.Errorf("sign in failed with status %d", resp.StatusCode)
		}
		return nil, mapIdentityError(ie.Error.Message)
	}

	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sign in response: %w", err)
	}

	result := &SignInResult{
		UID:          out.LocalID,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
	}
	if secs, err := time.ParseDuration(out.ExpiresIn + "s"); err == nil {
		result.ExpiresIn = secs
	}
	return result, nil
}

// Messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
func mapIdentityError(message string) error {
	code := strings.TrimSpace(strings.SplitN(message, ":", 2)[0])

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return fmt.Errorf("%w: %s", service.ErrInvalidCredentials, code)
	case "USER_DISABLED":
		return fmt.Errorf("%w: %s", service.ErrUserDisabled, code)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%w: %s", service.ErrTooManyAttempts, code)
	case "INVALID_EMAIL":
		return fmt.Errorf("%w: %s", service.ErrInvalidEmail, code)
	case "WEAK_PASSWORD":
		return fmt.Errorf("%w: %s", service.ErrWeakPassword, code)
	case "EMAIL_EXISTS":
		return fmt.Errorf("%w: %s", service.ErrEmailExists, code)
	}
	return fmt.Errorf("identity toolkit: %s", message)
}
