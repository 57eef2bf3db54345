package directorysync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/optimizer/backend/internal/repository"
	"github.com/savegress/optimizer/backend/internal/vault"
)

// Failure modes for token acquisition against the identity authority.
// InvalidCredentials flips TenantCredentials.is_valid so later
// syncs short-circuit instead of hammering a dead client secret;
// AuthorityUnavailable is transient and left for the caller's own retry
// policy (the HTTP Client Core retries the downstream Graph calls, but a
// token acquisition failure here surfaces directly since there's no
// token to attach to a retryable request yet).
var (
	ErrInvalidCredentials   = errors.New("directorysync: tenant credentials rejected by authority")
	ErrAuthorityUnavailable = errors.New("directorysync: token authority unavailable")
	ErrMalformedResponse    = errors.New("directorysync: malformed token response")
)

// TokenAcquirer implements tokencache.Acquirer for the directory API: an
// OAuth 2.0 client-credentials exchange against each tenant's own
// authority URL, using the tenant's vault-sealed client secret.
type TokenAcquirer struct {
	http    *http.Client
	tenants *repository.TenantRepository
	vault   *vault.Vault
	scope   string
}

func NewTokenAcquirer(tenants *repository.TenantRepository, v *vault.Vault, scope string) *TokenAcquirer {
	return &TokenAcquirer{
		http:    &http.Client{Timeout: 30 * time.Second},
		tenants: tenants,
		vault:   v,
		scope:   scope,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AcquireToken satisfies tokencache.Acquirer. tenantID is the Tenant's
// surrogate UUID, not the directory tenant id embedded in the authority
// URL - the authority URL itself lives on TenantCredentials.
func (a *TokenAcquirer) AcquireToken(ctx context.Context, tenantID string) (string, time.Time, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	creds, err := a.tenants.GetCredentials(ctx, id)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("directorysync: load credentials: %w", err)
	}
	if !creds.IsValid {
		return "", time.Time{}, ErrInvalidCredentials
	}

	secret, err := a.vault.OpenString(creds.ClientSecretCiphertext)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("directorysync: open client secret: %w", err)
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds.ClientID},
		"client_secret": {secret},
		"scope":         {a.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenAuthority, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("directorysync: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = a.tenants.MarkCredentialsInvalid(ctx, id)
		return "", time.Time{}, ErrInvalidCredentials
	case resp.StatusCode >= 500:
		return "", time.Time{}, fmt.Errorf("%w: status %d", ErrAuthorityUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", time.Time{}, fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		return "", time.Time{}, ErrMalformedResponse
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return parsed.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}
