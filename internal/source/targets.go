package source

import (
	"sort"
	"strings"
)

// bundleIDs maps browser names (lower case) to macOS bundle identifiers.
var bundleIDs = map[string]string{
	"safari":         "com.apple.Safari",
	"google chrome":  "com.google.Chrome",
	"chrome":         "com.google.Chrome",
	"firefox":        "org.mozilla.firefox",
	"microsoft edge": "com.microsoft.edgemac",
	"edge":           "com.microsoft.edgemac",
	"arc":            "company.thebrowser.Browser",
	"brave browser":  "com.brave.Browser",
	"brave":          "com.brave.Browser",
	"opera":          "com.operasoftware.Opera",
	"vivaldi":        "com.vivaldi.Vivaldi",
}

// BundleIDFor resolves a browser name to its bundle identifier,
// case-insensitively. The second result is false for unknown names.
func BundleIDFor(name string) (string, bool) {
	id, ok := bundleIDs[strings.ToLower(name)]
	return id, ok
}

// SupportedTargets returns the canonical browser names users can pass on the
// command line, sorted.
func SupportedTargets() []string {
	names := []string{
		"Safari",
		"Google Chrome",
		"Firefox",
		"Microsoft Edge",
		"Arc",
		"Brave Browser",
		"Opera",
		"Vivaldi",
	}
	sort.Strings(names)
	return names
}

// KnownBundleID reports whether id belongs to a supported browser.
func KnownBundleID(id string) bool {
	for _, v := range bundleIDs {
		if v == id {
			return true
		}
	}
	return false
}
