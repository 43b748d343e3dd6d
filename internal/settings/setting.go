package settings

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Well-known setting keys
const (
	KeyTrackerSalt    = "tracker_salt"
	KeyExcludedIPs    = "excluded_ips"
	KeyAdminTokenHash = "admin_token_hash"
)

var excludedIPsCache *cache.Cache[string, []string]

// SetupDefaultSettings initializes default settings in the database
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyAdminTokenHash, Value: ""},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				return fmt.Errorf("failed to upsert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	loadExcludedIPsCache(dbConn, slog.Default())

	return err
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, result.Error)
	}
	return setting.Value, nil
}

// CreateOrUpdateSetting creates a new setting or updates an existing one
func CreateOrUpdateSetting(dbConn *gorm.DB, key, value string) error {
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, time.Now().UTC(), time.Now().UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}

	if key == KeyExcludedIPs && excludedIPsCache != nil {
		excludedIPsCache.Clear()
	}
	return nil
}

// IsIPExcluded reports whether an IP is on the exclusion list.
func IsIPExcluded(ip string) (bool, error) {
	if excludedIPsCache == nil {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
}

func loadExcludedIPsCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		value, err := GetSetting(dbConn, key)
		if err != nil {
			return nil, err
		}
		var ips []string
		for _, part := range strings.Split(value, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				ips = append(ips, ip)
			}
		}
		return ips, nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
}

// trackerSalt is the persisted JSON value behind KeyTrackerSalt.
type trackerSalt struct {
	Salt string `json:"salt"`
	Date string `json:"date"`
}

// DailySalt returns the visitor-hash salt for the given day, generating a
// fresh one when the stored date differs. Rotation is what makes visitor
// signatures unlinkable across days.
func DailySalt(dbConn *gorm.DB, now time.Time) (string, error) {
	today := now.UTC().Format("2006-01-02")

	value, err := GetSetting(dbConn, KeyTrackerSalt)
	if err == nil {
		var stored trackerSalt
		if jsonErr := json.Unmarshal([]byte(value), &stored); jsonErr == nil {
			if stored.Date == today && stored.Salt != "" {
				return stored.Salt, nil
			}
		}
	}

	salt, err := randomSalt()
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(trackerSalt{Salt: salt, Date: today})
	if err != nil {
		return "", fmt.Errorf("failed to encode tracker salt: %w", err)
	}
	if err := CreateOrUpdateSetting(dbConn, KeyTrackerSalt, string(payload)); err != nil {
		return "", err
	}
	return salt, nil
}

func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
