package user_agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"webstats/internal/pkg/user_agent"
)

func TestParseDesktopBrowsers(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		browser string
		version string
		os      string
	}{
		{
			name:    "chrome on windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser: "Chrome",
			version: "120.0.0.0",
			os:      "Windows",
		},
		{
			name:    "firefox on linux",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser: "Firefox",
			version: "121.0",
			os:      "Linux",
		},
		{
			name:    "safari on mac",
			ua:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			browser: "Safari",
			version: "17.1",
			os:      "macOS",
		},
		{
			name:    "edge on windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			browser: "Microsoft Edge",
			version: "120.0.2210.91",
			os:      "Windows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := user_agent.ParseUserAgent(tt.ua)
			assert.Equal(t, tt.browser, parsed.Browser)
			assert.Equal(t, tt.version, parsed.BrowserVersion)
			assert.Equal(t, tt.os, parsed.OS)
			assert.True(t, parsed.Desktop)
			assert.False(t, parsed.Bot)
		})
	}
}

func TestParseMobileAndTablet(t *testing.T) {
	iphone := user_agent.ParseUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1")
	assert.Equal(t, user_agent.DeviceMobile, iphone.Device)
	assert.True(t, iphone.Mobile)
	assert.Equal(t, "iOS", iphone.OS)

	ipad := user_agent.ParseUserAgent("Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1")
	assert.Equal(t, user_agent.DeviceTablet, ipad.Device)
	assert.True(t, ipad.Tablet)

	androidPhone := user_agent.ParseUserAgent("Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36")
	assert.Equal(t, user_agent.DeviceMobile, androidPhone.Device)
	assert.Equal(t, "Android", androidPhone.OS)

	// Android without the Mobile token is a tablet.
	androidTablet := user_agent.ParseUserAgent("Mozilla/5.0 (Linux; Android 14; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, user_agent.DeviceTablet, androidTablet.Device)
}

func TestParseBots(t *testing.T) {
	bots := []string{
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		"Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
		"curl/8.4.0",
		"python-requests/2.31.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
	}
	for _, ua := range bots {
		parsed := user_agent.ParseUserAgent(ua)
		assert.True(t, parsed.Bot, "expected bot: %s", ua)
	}
}

func TestParseUnknownAgent(t *testing.T) {
	parsed := user_agent.ParseUserAgent("SomeEntirelyMadeUpAgent/1.0")
	assert.False(t, parsed.Bot)
	assert.Equal(t, "Unknown", parsed.Browser)
	assert.Empty(t, parsed.BrowserVersion)
	assert.Equal(t, "Unknown", parsed.OS)
	assert.Equal(t, user_agent.DeviceDesktop, parsed.Device)
}
