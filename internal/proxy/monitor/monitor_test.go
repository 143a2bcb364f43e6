package monitor

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestMonitor(t *testing.T) *ProxyMonitor {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(&models.RequestLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewProxyMonitor(database)
}

func waitForRows(t *testing.T, pm *ProxyMonitor, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var count int64
		pm.db.Model(&models.RequestLog{}).Count(&count)
		if count == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("db never reached %d rows", want)
}

func TestLogRequestCountsAndPersists(t *testing.T) {
	pm := newTestMonitor(t)

	pm.LogRequest(models.RequestLog{Method: "POST", URL: "/v1/messages", Status: 200, Provider: "ami"})
	pm.LogRequest(models.RequestLog{Method: "POST", URL: "/v1/messages", Status: 502, Provider: "ami"})

	stats := pm.GetStats()
	if stats.TotalRequests != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	waitForRows(t, pm, 2)
	logs := pm.GetLogs(10, 0)
	if len(logs) != 2 {
		t.Fatalf("logs = %d", len(logs))
	}
	if logs[0].ID == "" || logs[0].Timestamp == 0 {
		t.Errorf("log missing id/timestamp: %+v", logs[0])
	}
}

func TestDisabledMonitorDropsRequests(t *testing.T) {
	pm := newTestMonitor(t)
	pm.SetEnabled(false)

	pm.LogRequest(models.RequestLog{Status: 200})
	if stats := pm.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetLogsSinceFilter(t *testing.T) {
	pm := newTestMonitor(t)

	old := models.RequestLog{Status: 200, Timestamp: time.Now().Add(-time.Hour).UnixMilli()}
	pm.LogRequest(old)
	pm.LogRequest(models.RequestLog{Status: 200})
	waitForRows(t, pm, 2)

	recent := pm.GetLogs(10, 5)
	if len(recent) != 1 {
		t.Errorf("recent = %d, want 1", len(recent))
	}
}

func TestClearResetsEverything(t *testing.T) {
	pm := newTestMonitor(t)
	pm.LogRequest(models.RequestLog{Status: 200})
	waitForRows(t, pm, 1)

	if err := pm.Clear(); err != nil {
		t.Fatal(err)
	}
	if stats := pm.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if logs := pm.GetLogs(10, 0); len(logs) != 0 {
		t.Errorf("logs = %d", len(logs))
	}
}

func TestStatsReloadedFromStore(t *testing.T) {
	pm := newTestMonitor(t)
	pm.LogRequest(models.RequestLog{Status: 200})
	pm.LogRequest(models.RequestLog{Status: 500})
	waitForRows(t, pm, 2)

	reloaded := NewProxyMonitor(pm.db)
	stats := reloaded.GetStats()
	if stats.TotalRequests != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
