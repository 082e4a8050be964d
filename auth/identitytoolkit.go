package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultIdentityToolkitURL is the Firebase Authentication REST endpoint.
const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// IdentityToolkit signs users in against Firebase Authentication with the
// accounts:signInWithPassword REST call.
type IdentityToolkit struct {
	apiKey   string
	endpoint string
	http     *http.Client
	log      *zerolog.Logger
}

// NewIdentityToolkit returns a client for the given web API key. An empty
// endpoint selects DefaultIdentityToolkitURL.
func NewIdentityToolkit(apiKey, endpoint string, timeout time.Duration, log *zerolog.Logger) *IdentityToolkit {
	if endpoint == "" {
		endpoint = DefaultIdentityToolkitURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &IdentityToolkit{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// credential failures reported by the identity toolkit
var credentialErrors = []string{
	"EMAIL_NOT_FOUND",
	"INVALID_PASSWORD",
	"INVALID_LOGIN_CREDENTIALS",
	"INVALID_EMAIL",
	"USER_DISABLED",
	"MISSING_PASSWORD",
}

func (it *IdentityToolkit) SignIn(ctx context.Context, email, password string) (Identity, error) {
	payload, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return Identity{}, err
	}

	u := it.endpoint + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(it.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := it.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		it.log.Debug().Int("status", resp.StatusCode).Str("reason", e.Error.Message).Msg("Sign in refused")
		for _, code := range credentialErrors {
			if strings.HasPrefix(e.Error.Message, code) {
				return Identity{}, ErrInvalidCredentials
			}
		}
		if resp.StatusCode >= 500 {
			return Identity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return Identity{}, fmt.Errorf("sign in failed with status %d: %s", resp.StatusCode, e.Error.Message)
	}

	var out signInResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Identity{}, fmt.Errorf("failed to decode sign in response: %w", err)
	}
	if out.Email == "" {
		out.Email = email
	}
	return Identity{Email: out.Email, UserID: out.LocalID, IDToken: out.IDToken}, nil
}
