package tracker

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/language"

	"webstats/internal/dimensions"
	"webstats/internal/pkg/referrers"
)

var countryDB = gountries.New()

// resolveResource resolves the page identity from the raw URL path.
func (pl *Pipeline) resolveResource(res *dimensions.Resolver, p *Profile) Outcome {
	parsed, err := url.Parse(p.RawURL)
	if err != nil || parsed.Path == "" && parsed.Host == "" {
		return skipped(StepResource, SkipEmptyValue)
	}
	uri := parsed.Path
	if uri == "" {
		uri = "/"
	}
	p.ResourceURI = uri

	id, err := dimensions.Resolve[dimensions.Resource](res,
		dimensions.CacheKey("resources", uri),
		map[string]any{"uri": uri},
		&dimensions.Resource{URI: uri, CreatedAt: p.Now.UTC()},
	)
	if err != nil {
		return failed(StepResource, err)
	}
	p.ResourceID = id
	return recorded(StepResource, id)
}

// resolveDevice resolves type, OS, browser and browser version. Browser
// version depends on the browser row and resolves it first when needed.
func (pl *Pipeline) resolveDevice(res *dimensions.Resolver, p *Profile) Outcome {
	if !pl.cfg.TrackDevices {
		return skipped(StepDevice, SkipDisabled)
	}

	parsed := p.Parsed
	if parsed.Device != "" {
		id, err := dimensions.Resolve[dimensions.DeviceType](res,
			dimensions.CacheKey("device_types", parsed.Device),
			map[string]any{"name": parsed.Device},
			&dimensions.DeviceType{Name: parsed.Device, CreatedAt: p.Now.UTC()},
		)
		if err != nil {
			return failed(StepDevice, err)
		}
		p.DeviceTypeID = id
	}

	if parsed.OS != "" && parsed.OS != "Unknown" {
		id, err := dimensions.Resolve[dimensions.DeviceOS](res,
			dimensions.CacheKey("device_os", parsed.OS),
			map[string]any{"name": parsed.OS},
			&dimensions.DeviceOS{Name: parsed.OS, CreatedAt: p.Now.UTC()},
		)
		if err != nil {
			return failed(StepDevice, err)
		}
		p.DeviceOSID = id
	}

	if parsed.Browser != "" && parsed.Browser != "Unknown" {
		if err := pl.resolveBrowser(res, p); err != nil {
			return failed(StepDevice, err)
		}
	}

	if parsed.BrowserVersion != "" {
		if p.DeviceBrowserID == 0 {
			// Version rows hang off the browser row; resolve it first.
			if err := pl.resolveBrowser(res, p); err != nil {
				return failed(StepDevice, err)
			}
		}
		if p.DeviceBrowserID != 0 {
			id, err := dimensions.Resolve[dimensions.DeviceBrowserVersion](res,
				dimensions.CacheKey("device_browser_versions",
					strconv.FormatUint(uint64(p.DeviceBrowserID), 10), parsed.BrowserVersion),
				map[string]any{"browser_id": p.DeviceBrowserID, "version": parsed.BrowserVersion},
				&dimensions.DeviceBrowserVersion{
					BrowserID: p.DeviceBrowserID,
					Version:   parsed.BrowserVersion,
					CreatedAt: p.Now.UTC(),
				},
			)
			if err != nil {
				return failed(StepDevice, err)
			}
			p.DeviceBrowserVersionID = id
		}
	}

	if p.DeviceTypeID == 0 && p.DeviceOSID == 0 && p.DeviceBrowserID == 0 {
		return skipped(StepDevice, SkipEmptyValue)
	}
	return recorded(StepDevice, p.DeviceTypeID)
}

func (pl *Pipeline) resolveBrowser(res *dimensions.Resolver, p *Profile) error {
	browser := p.Parsed.Browser
	if browser == "" || browser == "Unknown" {
		return nil
	}
	id, err := dimensions.Resolve[dimensions.DeviceBrowser](res,
		dimensions.CacheKey("device_browsers", browser),
		map[string]any{"name": browser},
		&dimensions.DeviceBrowser{Name: browser, CreatedAt: p.Now.UTC()},
	)
	if err != nil {
		return err
	}
	p.DeviceBrowserID = id
	return nil
}

// resolveGeo resolves country and city. City needs the country row first
// and skips when either the country or the city name is missing.
func (pl *Pipeline) resolveGeo(res *dimensions.Resolver, p *Profile) Outcome {
	if !pl.cfg.TrackGeo {
		return skipped(StepGeo, SkipDisabled)
	}
	if pl.geo == nil || !pl.geo.Available() {
		return skipped(StepGeo, SkipMissingPrereq)
	}

	location := pl.geo.Lookup(p.IP)
	if location.CountryCode == "" {
		return skipped(StepGeo, SkipEmptyValue)
	}
	p.CountryCode = location.CountryCode
	p.CityName = location.City

	name := location.CountryCode
	if country, err := countryDB.FindCountryByAlpha(location.CountryCode); err == nil {
		name = country.Name.Common
	}

	countryID, err := dimensions.Resolve[dimensions.Country](res,
		dimensions.CacheKey("countries", location.CountryCode),
		map[string]any{"code": location.CountryCode},
		&dimensions.Country{Code: location.CountryCode, Name: name, CreatedAt: p.Now.UTC()},
	)
	if err != nil {
		return failed(StepGeo, err)
	}
	p.CountryID = countryID

	if location.City != "" {
		cityID, err := dimensions.Resolve[dimensions.City](res,
			dimensions.CacheKey("cities", location.CountryCode, location.City),
			map[string]any{"country_id": countryID, "name": location.City},
			&dimensions.City{CountryID: countryID, Name: location.City, CreatedAt: p.Now.UTC()},
		)
		if err != nil {
			return failed(StepGeo, err)
		}
		p.CityID = cityID
	}

	return recorded(StepGeo, countryID)
}

// resolveLocale resolves language and timezone. The language is normalized
// to a canonical BCP-47 tag; unparseable values skip.
func (pl *Pipeline) resolveLocale(res *dimensions.Resolver, p *Profile) Outcome {
	var resolvedAny bool

	if p.Language != "" {
		if tag, err := language.Parse(p.Language); err == nil {
			code := tag.String()
			id, err := dimensions.Resolve[dimensions.Language](res,
				dimensions.CacheKey("languages", code),
				map[string]any{"code": code},
				&dimensions.Language{Code: code, CreatedAt: p.Now.UTC()},
			)
			if err != nil {
				return failed(StepLocale, err)
			}
			p.LanguageID = id
			resolvedAny = true
		}
	}

	if p.Timezone != "" {
		id, err := dimensions.Resolve[dimensions.Timezone](res,
			dimensions.CacheKey("timezones", p.Timezone),
			map[string]any{"name": p.Timezone},
			&dimensions.Timezone{Name: p.Timezone, CreatedAt: p.Now.UTC()},
		)
		if err != nil {
			return failed(StepLocale, err)
		}
		p.TimezoneID = id
		resolvedAny = true
	}

	if !resolvedAny {
		return skipped(StepLocale, SkipEmptyValue)
	}
	return recorded(StepLocale, p.LanguageID)
}

// resolveReferrer resolves the referring hostname. Self-referrals collapse
// to direct traffic and skip.
func (pl *Pipeline) resolveReferrer(res *dimensions.Resolver, p *Profile) Outcome {
	if !pl.cfg.TrackReferrers {
		return skipped(StepReferrer, SkipDisabled)
	}
	if p.ReferrerURL == "" {
		return skipped(StepReferrer, SkipEmptyValue)
	}

	parsed, err := url.Parse(p.ReferrerURL)
	if err != nil || parsed.Hostname() == "" {
		return skipped(StepReferrer, SkipEmptyValue)
	}
	host := strings.ToLower(parsed.Hostname())

	if referrers.IsSelfReferral(host, pl.siteHost) {
		return skipped(StepReferrer, SkipEmptyValue)
	}
	p.ReferrerHost = host

	id, err := dimensions.Resolve[dimensions.Referrer](res,
		dimensions.CacheKey("referrers", host),
		map[string]any{"domain": host},
		&dimensions.Referrer{Domain: host, Name: referrers.FriendlyName(host), CreatedAt: p.Now.UTC()},
	)
	if err != nil {
		return failed(StepReferrer, err)
	}
	p.ReferrerID = id
	return recorded(StepReferrer, id)
}

// resolveResolution resolves the screen resolution; zero dimensions skip.
func (pl *Pipeline) resolveResolution(res *dimensions.Resolver, p *Profile) Outcome {
	if p.ScreenW <= 0 || p.ScreenH <= 0 {
		return skipped(StepResolution, SkipEmptyValue)
	}

	id, err := dimensions.Resolve[dimensions.Resolution](res,
		dimensions.CacheKey("resolutions", fmt.Sprintf("%dx%d", p.ScreenW, p.ScreenH)),
		map[string]any{"width": p.ScreenW, "height": p.ScreenH},
		&dimensions.Resolution{Width: p.ScreenW, Height: p.ScreenH, CreatedAt: p.Now.UTC()},
	)
	if err != nil {
		return failed(StepResolution, err)
	}
	p.ResolutionID = id
	return recorded(StepResolution, id)
}
