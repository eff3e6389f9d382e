// Package marketplace holds the enumerated table of supported vendor
// marketplaces. Lookups fail closed: an unknown country code is Unsupported,
// never silently mapped to a default.
package marketplace

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"audibridge/internal/services"
)

// Marketplace describes one vendor storefront.
type Marketplace struct {
	CountryCode   string
	Domain        string
	MarketplaceID string
	// Region is the ISO 3166 region used for display names; it differs from
	// CountryCode for the UK.
	Region string
}

// AssocHandle is the OpenID association handle the sign-in page expects.
func (m Marketplace) AssocHandle() string {
	return "amzn_audible_ios_" + m.CountryCode
}

// SignInHost is the marketplace's sign-in host (www.amazon.<domain>).
func (m Marketplace) SignInHost() string {
	return "www.amazon." + m.Domain
}

// APIHost is the device-auth host (api.amazon.<domain>).
func (m Marketplace) APIHost() string {
	return "api.amazon." + m.Domain
}

// AudibleAPIHost is the content and catalog host (api.audible.<domain>).
func (m Marketplace) AudibleAPIHost() string {
	return "api.audible." + m.Domain
}

// DisplayName renders the English region name, e.g. "Canada".
func (m Marketplace) DisplayName() string {
	region, err := language.ParseRegion(m.Region)
	if err != nil {
		return strings.ToUpper(m.CountryCode)
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return strings.ToUpper(m.CountryCode)
}

var table = map[string]Marketplace{
	"us": {CountryCode: "us", Domain: "com", MarketplaceID: "AF2M0KC94RCEA", Region: "US"},
	"ca": {CountryCode: "ca", Domain: "ca", MarketplaceID: "A2CQZ5RBY40XE", Region: "CA"},
	"uk": {CountryCode: "uk", Domain: "co.uk", MarketplaceID: "A2I9A3Q2GNFNGQ", Region: "GB"},
	"au": {CountryCode: "au", Domain: "com.au", MarketplaceID: "AN7EY7DTAW63G", Region: "AU"},
	"fr": {CountryCode: "fr", Domain: "fr", MarketplaceID: "A2728XDNODOQ8T", Region: "FR"},
	"de": {CountryCode: "de", Domain: "de", MarketplaceID: "AN7V1F1VY261K", Region: "DE"},
	"jp": {CountryCode: "jp", Domain: "co.jp", MarketplaceID: "A1QAP3MOU4173J", Region: "JP"},
	"it": {CountryCode: "it", Domain: "it", MarketplaceID: "A2N7FU2W2BU2ZC", Region: "IT"},
	"in": {CountryCode: "in", Domain: "in", MarketplaceID: "AJO3FBRUE6J4S", Region: "IN"},
	"es": {CountryCode: "es", Domain: "es", MarketplaceID: "ALMIKO4SZCSAR", Region: "ES"},
	"br": {CountryCode: "br", Domain: "com.br", MarketplaceID: "A10J1VAYUDTYRN", Region: "BR"},
}

// Lookup resolves a country code case-insensitively.
func Lookup(countryCode string) (Marketplace, error) {
	code := strings.ToLower(strings.TrimSpace(countryCode))
	if code == "" {
		return Marketplace{}, services.Wrap(services.ErrUnsupported, "marketplace", "lookup", "country code is required", nil)
	}
	m, ok := table[code]
	if !ok {
		return Marketplace{}, services.Wrap(services.ErrUnsupported, "marketplace", "lookup",
			fmt.Sprintf("unsupported country code %q", countryCode), nil)
	}
	return m, nil
}

// All returns every marketplace sorted by country code.
func All() []Marketplace {
	out := make([]Marketplace, 0, len(table))
	for _, m := range table {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out
}

// Validate checks every table entry is complete and that defaultCountry is
// served. It runs once at startup from config validation.
func Validate(defaultCountry string) error {
	var errs []error
	for code, m := range table {
		if m.CountryCode != code {
			errs = append(errs, fmt.Errorf("marketplace %s: country code mismatch %q", code, m.CountryCode))
		}
		if m.Domain == "" || m.MarketplaceID == "" || m.Region == "" {
			errs = append(errs, fmt.Errorf("marketplace %s: incomplete entry", code))
		}
	}
	if _, err := Lookup(defaultCountry); err != nil {
		errs = append(errs, fmt.Errorf("default country: %w", err))
	}
	return errors.Join(errs...)
}
