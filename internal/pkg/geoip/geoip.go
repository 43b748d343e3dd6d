// Package geoip wraps the optional GeoLite2 city database.
package geoip

import (
	"net"
	"os"
	"sync"

	"log/slog"

	"github.com/oschwald/geoip2-golang"
)

// Location is the subset of the GeoLite2 record the tracker consumes.
type Location struct {
	CountryCode string
	City        string
}

// Locator performs IP geolocation. A Locator with no database resolves
// every IP to an empty Location; GeoIP is optional.
type Locator struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	path   string
	logger *slog.Logger
}

// NewLocator opens the GeoLite2 database at path. A missing or unreadable
// file disables geolocation instead of failing startup.
func NewLocator(path string, logger *slog.Logger) *Locator {
	l := &Locator{path: path, logger: logger}
	l.open()
	return l
}

func (l *Locator) open() {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - geo enrichment disabled")
		return
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		l.logger.Info("GeoLite2 database not found - geo enrichment disabled",
			slog.String("path", l.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return
	} else if err != nil {
		l.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", l.path), slog.Any("error", err))
		return
	}

	reader, err := geoip2.Open(l.path)
	if err != nil {
		l.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", l.path), slog.Any("error", err))
		return
	}

	l.mu.Lock()
	l.reader = reader
	l.mu.Unlock()
	l.logger.Info("GeoLite2 database initialized", slog.String("path", l.path))
}

// Available reports whether a database is loaded.
func (l *Locator) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reader != nil
}

// Lookup resolves an IP to country code and city name. Unknown or private
// addresses return an empty Location without error.
func (l *Locator) Lookup(ip string) Location {
	l.mu.RLock()
	reader := l.reader
	l.mu.RUnlock()

	if reader == nil {
		return Location{}
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}
	}

	record, err := reader.City(parsed)
	if err != nil {
		l.logger.Debug("GeoIP lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return Location{}
	}

	return Location{
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
	}
}

// Reload reopens the database from disk, e.g. after a fresh download.
func (l *Locator) Reload() {
	l.mu.Lock()
	if l.reader != nil {
		l.reader.Close()
		l.reader = nil
	}
	l.mu.Unlock()

	l.open()
}

// Close releases the underlying reader.
func (l *Locator) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader != nil {
		l.reader.Close()
		l.reader = nil
	}
}
