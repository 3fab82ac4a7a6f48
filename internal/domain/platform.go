package domain

import "fmt"

// Platform tags a catalog record with its marketplace of origin. The set is
// open-ended (adding a marketplace is a new constant plus a canonical-pair
// config), but writes are validated against the known set.
type Platform string

const (
	PlatformStockX Platform = "stockx"
	PlatformAlias  Platform = "alias"
	PlatformPoizon Platform = "poizon"
)

var knownPlatforms = map[Platform]bool{
	PlatformStockX: true,
	PlatformAlias:  true,
	PlatformPoizon: true,
}

func (p Platform) Valid() bool {
	return knownPlatforms[p]
}

func (p Platform) String() string {
	return string(p)
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", &ValidationError{Field: "platform", Reason: fmt.Sprintf("unknown platform %q", s)}
	}
	return p, nil
}
