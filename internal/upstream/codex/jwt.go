package codex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Claims is the subset of the OpenAI id/access token payload the proxy
// cares about.
type Claims struct {
	Email    string   `json:"email"`
	Exp      int64    `json:"exp"`
	AuthInfo authInfo `json:"https://api.openai.com/auth"`
}

type authInfo struct {
	AccountID string `json:"chatgpt_account_id"`
	PlanType  string `json:"chatgpt_plan_type"` // plus, pro, team
}

// DecodeClaims extracts the payload of a JWT without verifying the
// signature; the tokens come straight from the issuer over TLS.
func DecodeClaims(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed JWT: %d segments", len(parts))
	}
	data, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode JWT payload: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("parse JWT claims: %w", err)
	}
	return &claims, nil
}
