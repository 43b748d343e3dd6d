package tracker

import (
	"time"

	"webstats/internal/pkg/user_agent"
)

// Profile carries the per-request state through the recording pipeline.
// Each recorder reads the prerequisite fields written by earlier stages and
// writes its own results back; the struct is never shared across requests.
type Profile struct {
	// Request inputs
	IP          string
	UserAgent   string
	RawURL      string
	ReferrerURL string
	ScreenW     int
	ScreenH     int
	Language    string
	Timezone    string
	UserID      *uint
	Now         time.Time

	// Derived during the pipeline
	Parsed       user_agent.UserAgent
	Signature    string
	ResourceURI  string
	CountryCode  string
	CityName     string
	ReferrerHost string

	// Resolved surrogate keys
	VisitorID              uint
	ResourceID             uint
	CountryID              uint
	CityID                 uint
	ReferrerID             uint
	DeviceTypeID           uint
	DeviceOSID             uint
	DeviceBrowserID        uint
	DeviceBrowserVersionID uint
	ResolutionID           uint
	LanguageID             uint
	TimezoneID             uint

	// Session outcome
	SessionID    uint
	SessionIsNew bool
	ViewID       uint
}
