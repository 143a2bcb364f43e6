// Package monitor records proxied requests for diagnosis: per-request
// rows in the store plus cheap in-memory aggregates.
package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"gorm.io/gorm"
)

// MaxMemoryLogs bounds the in-memory recent-log cache.
const MaxMemoryLogs = 100

// ProxyMonitor manages request logging and statistics.
type ProxyMonitor struct {
	db      *gorm.DB
	enabled atomic.Bool

	recentLogs []models.RequestLog
	logsMu     sync.RWMutex

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewProxyMonitor(database *gorm.DB) *ProxyMonitor {
	pm := &ProxyMonitor{
		db:         database,
		recentLogs: make([]models.RequestLog, 0, MaxMemoryLogs),
	}
	pm.loadStatsFromDB()
	pm.enabled.Store(true)
	return pm
}

// SetEnabled toggles request logging at runtime.
func (pm *ProxyMonitor) SetEnabled(enabled bool) {
	pm.enabled.Store(enabled)
	log.Printf("📊 request logging %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

func (pm *ProxyMonitor) IsEnabled() bool {
	return pm.enabled.Load()
}

// LogRequest records one request. The store write is async so the hot
// path never blocks on the database.
func (pm *ProxyMonitor) LogRequest(entry models.RequestLog) {
	if !pm.IsEnabled() {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	pm.totalRequests.Add(1)
	if entry.Status >= 200 && entry.Status < 400 {
		pm.successCount.Add(1)
	} else {
		pm.errorCount.Add(1)
	}

	pm.logsMu.Lock()
	pm.recentLogs = append([]models.RequestLog{entry}, pm.recentLogs...)
	if len(pm.recentLogs) > MaxMemoryLogs {
		pm.recentLogs = pm.recentLogs[:MaxMemoryLogs]
	}
	pm.logsMu.Unlock()

	go func(e models.RequestLog) {
		if err := pm.db.Create(&e).Error; err != nil {
			log.Printf("⚠️ saving request log failed: %v", err)
		}
	}(entry)
}

// GetLogs returns recent request logs, newest first, optionally limited
// to the last sinceMinutes.
func (pm *ProxyMonitor) GetLogs(limit int, sinceMinutes int) []models.RequestLog {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.RequestLog
	query := pm.db.Order("timestamp DESC").Limit(limit)
	if sinceMinutes > 0 {
		since := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
		query = query.Where("timestamp >= ?", since)
	}
	if err := query.Find(&logs).Error; err != nil {
		log.Printf("⚠️ reading request logs failed: %v", err)
		pm.logsMu.RLock()
		defer pm.logsMu.RUnlock()
		if limit > len(pm.recentLogs) {
			limit = len(pm.recentLogs)
		}
		return pm.recentLogs[:limit]
	}
	return logs
}

// GetStats returns the aggregate counters.
func (pm *ProxyMonitor) GetStats() models.RequestStats {
	return models.RequestStats{
		TotalRequests: pm.totalRequests.Load(),
		SuccessCount:  pm.successCount.Load(),
		ErrorCount:    pm.errorCount.Load(),
	}
}

// Clear wipes logs and counters, memory and store both.
func (pm *ProxyMonitor) Clear() error {
	pm.logsMu.Lock()
	pm.recentLogs = pm.recentLogs[:0]
	pm.logsMu.Unlock()

	pm.totalRequests.Store(0)
	pm.successCount.Store(0)
	pm.errorCount.Store(0)

	if err := pm.db.Exec("DELETE FROM request_logs").Error; err != nil {
		return err
	}
	return nil
}

func (pm *ProxyMonitor) loadStatsFromDB() {
	var total, success, errors int64
	pm.db.Model(&models.RequestLog{}).Count(&total)
	pm.db.Model(&models.RequestLog{}).Where("status >= 200 AND status < 400").Count(&success)
	pm.db.Model(&models.RequestLog{}).Where("status < 200 OR status >= 400").Count(&errors)

	pm.totalRequests.Store(total)
	pm.successCount.Store(success)
	pm.errorCount.Store(errors)
}
