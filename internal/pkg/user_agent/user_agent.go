// Package user_agent parses User-Agent strings against an embedded,
// device-detector style rule set: ordered PCRE entries loaded from YAML,
// compiled lazily behind a cache. Entry order matters; more specific
// patterns must come first.
package user_agent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device type labels produced by the parser.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// UserAgent is the parsed result for one User-Agent string.
type UserAgent struct {
	UserAgent      string
	OS             string
	Browser        string
	BrowserVersion string
	Device         string
	Mobile         bool
	Tablet         bool
	Desktop        bool
	Bot            bool
}

//go:embed rules/browsers.yml
//go:embed rules/oss.yml
//go:embed rules/bots.yml
var ruleFiles embed.FS

// BrowserEntry matches a browser family and captures its version.
type BrowserEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// OSEntry matches an operating system.
type OSEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// BotEntry matches a crawler or automated client.
type BotEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// regexCache compiles patterns on first use.
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser     *ruleParser
	parserOnce sync.Once
)

type ruleParser struct {
	browsers []BrowserEntry
	oss      []OSEntry
	bots     []BotEntry
	cache    *regexCache
}

func getParser() *ruleParser {
	parserOnce.Do(func() {
		parser = &ruleParser{cache: newRegexCache()}

		if data, err := ruleFiles.ReadFile("rules/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				fmt.Printf("Error parsing browsers.yml: %v\n", err)
			}
		}
		if data, err := ruleFiles.ReadFile("rules/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				fmt.Printf("Error parsing oss.yml: %v\n", err)
			}
		}
		if data, err := ruleFiles.ReadFile("rules/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.bots); err != nil {
				fmt.Printf("Error parsing bots.yml: %v\n", err)
			}
		}
	})
	return parser
}

func (p *ruleParser) parseBot(userAgent string) *BotEntry {
	for i := range p.bots {
		if regex, err := p.cache.get(p.bots[i].Regex); err == nil {
			if regex.MatchString(userAgent) {
				return &p.bots[i]
			}
		}
	}
	return nil
}

func (p *ruleParser) parseBrowser(userAgent string) (string, string) {
	for _, entry := range p.browsers {
		regex, err := p.cache.get(entry.Regex)
		if err != nil {
			continue
		}
		matches := regex.FindStringSubmatch(userAgent)
		if len(matches) == 0 {
			continue
		}
		return entry.Name, expandGroups(entry.Version, matches)
	}
	return "Unknown", ""
}

func (p *ruleParser) parseOS(userAgent string) string {
	for _, entry := range p.oss {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return entry.Name
			}
		}
	}
	return "Unknown"
}

// expandGroups replaces $1..$9 in template with the capture groups.
func expandGroups(template string, matches []string) string {
	if template == "" || len(matches) < 2 {
		return ""
	}
	out := template
	for i, match := range matches[1:] {
		placeholder := fmt.Sprintf("$%d", i+1)
		out = strings.ReplaceAll(out, placeholder, match)
	}
	return strings.TrimSpace(out)
}

// parseDeviceType classifies the form factor from UA keywords. Tablet
// indicators come first because tablet UAs often also contain "Mobile".
func parseDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)

	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")) {
		return DeviceTablet
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "ipod") || strings.Contains(ua, "windows phone") {
		return DeviceMobile
	}
	return DeviceDesktop
}

// ParseUserAgent parses a User-Agent string. Bots short-circuit: they carry
// the bot name as Browser and never reach the recording pipeline.
func ParseUserAgent(userAgent string) UserAgent {
	p := getParser()

	if bot := p.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent: userAgent,
			OS:        "Unknown",
			Browser:   bot.Name,
			Device:    "bot",
			Bot:       true,
		}
	}

	browser, version := p.parseBrowser(userAgent)
	device := parseDeviceType(userAgent)

	return UserAgent{
		UserAgent:      userAgent,
		OS:             p.parseOS(userAgent),
		Browser:        browser,
		BrowserVersion: version,
		Device:         device,
		Mobile:         device == DeviceMobile,
		Tablet:         device == DeviceTablet,
		Desktop:        device == DeviceDesktop,
	}
}
