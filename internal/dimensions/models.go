// Package dimensions holds the deduplicated lookup tables referenced by the
// session and view fact tables, plus the find-or-create resolver that
// populates them.
package dimensions

import "time"

// Country is keyed by its ISO 3166-1 alpha-2 code.
type Country struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Code      string `gorm:"uniqueIndex;size:2;not null"`
	Name      string
	CreatedAt time.Time
}

func (c *Country) RowID() uint { return c.ID }

// City is keyed by (country, name); the same city name may exist in
// several countries.
type City struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CountryID uint   `gorm:"uniqueIndex:idx_city_country_name;not null"`
	Name      string `gorm:"uniqueIndex:idx_city_country_name;size:128;not null"`
	CreatedAt time.Time
}

func (c *City) RowID() uint { return c.ID }

type DeviceType struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

func (d *DeviceType) RowID() uint { return d.ID }

type DeviceOS struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

func (d *DeviceOS) RowID() uint { return d.ID }

type DeviceBrowser struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

func (d *DeviceBrowser) RowID() uint { return d.ID }

// DeviceBrowserVersion is keyed by (browser, version); resolving one
// requires the browser row to exist first.
type DeviceBrowserVersion struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	BrowserID uint   `gorm:"uniqueIndex:idx_browser_version;not null"`
	Version   string `gorm:"uniqueIndex:idx_browser_version;size:32;not null"`
	CreatedAt time.Time
}

func (d *DeviceBrowserVersion) RowID() uint { return d.ID }

type Resolution struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Width     int  `gorm:"uniqueIndex:idx_resolution;not null"`
	Height    int  `gorm:"uniqueIndex:idx_resolution;not null"`
	CreatedAt time.Time
}

func (r *Resolution) RowID() uint { return r.ID }

// Language holds a canonical BCP-47 tag.
type Language struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Code      string `gorm:"uniqueIndex;size:35;not null"`
	CreatedAt time.Time
}

func (l *Language) RowID() uint { return l.ID }

// Timezone holds an IANA zone name as reported by the client.
type Timezone struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

func (t *Timezone) RowID() uint { return t.ID }

// Referrer is keyed by hostname; Name carries the friendly display name
// when the hostname is a known source.
type Referrer struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Domain    string `gorm:"uniqueIndex;size:255;not null"`
	Name      string
	CreatedAt time.Time
}

func (r *Referrer) RowID() uint { return r.ID }

// Resource identifies a tracked page by its URI path.
type Resource struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	URI       string `gorm:"uniqueIndex;size:2048;not null"`
	CreatedAt time.Time
}

func (r *Resource) RowID() uint { return r.ID }
