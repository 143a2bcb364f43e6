package models

import "time"

// Provider identifiers stored in Credential.Provider.
const (
	ProviderAmi          = "ami"
	ProviderDigitalOcean = "digitalocean"
	ProviderBedrock      = "bedrock"
	ProviderCodex        = "codex"
)

// Credential is one provider account usable to serve requests. Exactly
// one auth shape is populated per provider:
//
//	ami          → SessionCookie (+ BridgeToken for the daemon bridge)
//	digitalocean → APIKey
//	bedrock      → AWSAccessKeyID/AWSSecretAccessKey(/AWSSessionToken)
//	codex        → AccessToken/RefreshToken/IDToken + AccountID
//
// The store is the source of truth; service code holds transient copies
// and persists counter changes as targeted increments, never full-row
// read-modify-write.
type Credential struct {
	ID       string `gorm:"primaryKey" json:"id"` // UUID
	Provider string `gorm:"index" json:"provider"`
	Label    string `json:"label"`

	// Ami (web session)
	SessionCookie string `json:"-"`
	BridgeToken   string `json:"-"`
	// Ami provider-side resources, provisioned lazily on first use.
	ProjectID string `json:"project_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`

	// Codex (OAuth)
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IDToken      string    `json:"-"`
	AccountID    string    `json:"account_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	// Bedrock (static AWS credentials)
	AWSAccessKeyID     string `json:"-"`
	AWSSecretAccessKey string `json:"-"`
	AWSSessionToken    string `json:"-"`
	AWSRegion          string `json:"aws_region,omitempty"`

	// DigitalOcean (bearer key)
	APIKey string `json:"-"`

	// Usage counters; monotonically non-decreasing except on explicit reset.
	UseCount         int64   `json:"use_count"`
	ErrorCount       int64   `json:"error_count"`
	LastErrorMessage string  `json:"last_error_message,omitempty"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	TotalCost        float64 `json:"total_cost"`

	// No gorm default here: a column default would make gorm omit a
	// false value on insert and store the row as active. Creation paths
	// set IsActive explicitly.
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}
