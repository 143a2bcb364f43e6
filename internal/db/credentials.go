package db

import (
	"errors"
	"time"

	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"gorm.io/gorm"
)

// ErrNoCredential is returned when the active pool for a provider is
// empty. Callers fail fast; nothing blocks waiting for a credential.
var ErrNoCredential = &upstream.Error{
	Kind:    upstream.KindNoCredential,
	Message: "no active credential available",
}

// costPerMTokens is a flat output-token rate per provider, enough for the
// TotalCost counter. Real billing lives outside this service.
var costPerMTokens = map[string]float64{
	models.ProviderAmi:          0,
	models.ProviderDigitalOcean: 0.60,
	models.ProviderBedrock:      15.0,
	models.ProviderCodex:        0,
}

// SelectRandomActive picks a random active credential for the provider.
// Inactive credentials are never candidates.
func SelectRandomActive(db *gorm.DB, provider string) (*models.Credential, error) {
	var cred models.Credential
	err := db.Where("provider = ? AND is_active = ?", provider, true).
		Order("RANDOM()").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// SelectLeastUsed picks the active credential with the lowest use count,
// breaking ties randomly so parallel requests spread across equally-used
// accounts.
func SelectLeastUsed(db *gorm.DB, provider string) (*models.Credential, error) {
	var cred models.Credential
	err := db.Where("provider = ? AND is_active = ?", provider, true).
		Order("use_count ASC, RANDOM()").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// GetCredential loads one credential by id regardless of active state
// (admin test endpoints target explicit ids).
func GetCredential(db *gorm.DB, id string) (*models.Credential, error) {
	var cred models.Credential
	if err := db.First(&cred, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

// ListCredentials returns all credentials, optionally filtered by provider.
func ListCredentials(db *gorm.DB, provider string) ([]models.Credential, error) {
	var creds []models.Credential
	q := db.Order("created_at ASC")
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

// RecordSuccess increments the use counter and accumulates token usage
// and derived cost. Updates are expressed as SQL increments so
// concurrent requests against the same credential never drop each
// other's counts.
func RecordSuccess(db *gorm.DB, cred *models.Credential, usage stream.Usage) error {
	cost := float64(usage.OutputTokens) / 1_000_000 * costPerMTokens[cred.Provider]
	return db.Model(&models.Credential{}).
		Where("id = ?", cred.ID).
		Updates(map[string]interface{}{
			"use_count":     gorm.Expr("use_count + 1"),
			"input_tokens":  gorm.Expr("input_tokens + ?", usage.InputTokens),
			"output_tokens": gorm.Expr("output_tokens + ?", usage.OutputTokens),
			"total_cost":    gorm.Expr("total_cost + ?", cost),
			"last_used_at":  time.Now(),
		}).Error
}

// RecordFailure increments the error counter and stores the message.
// Deactivation is a separate policy decision, not a side effect here.
func RecordFailure(db *gorm.DB, cred *models.Credential, message string) error {
	return db.Model(&models.Credential{}).
		Where("id = ?", cred.ID).
		Updates(map[string]interface{}{
			"error_count":        gorm.Expr("error_count + 1"),
			"last_error_message": message,
		}).Error
}

// SetActive flips the credential's active flag.
func SetActive(db *gorm.DB, id string, active bool) error {
	return db.Model(&models.Credential{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// ResetCounters zeroes the usage and error counters (explicit admin reset,
// the only sanctioned decrease).
func ResetCounters(db *gorm.DB, id string) error {
	return db.Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"use_count":          0,
			"error_count":        0,
			"last_error_message": "",
			"input_tokens":       0,
			"output_tokens":      0,
			"total_cost":         0,
		}).Error
}

// UpdateProvisioning persists provider-side resource ids created by lazy
// provisioning (Ami project/chat).
func UpdateProvisioning(db *gorm.DB, id, projectID, chatID string) error {
	return db.Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"project_id": projectID,
			"chat_id":    chatID,
		}).Error
}

// UpdateOAuthTokens persists refreshed Codex tokens and the recomputed
// expiry. An empty refresh token keeps the stored one (providers rotate
// refresh tokens only sometimes).
func UpdateOAuthTokens(db *gorm.DB, id, accessToken, refreshToken, idToken string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"id_token":     idToken,
		"expires_at":   expiresAt,
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return db.Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(updates).Error
}
