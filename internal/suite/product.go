package suite

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
)

// ProductName derives the human-readable IUT product name from the
// artifact's purl, falling back to the raw purl string if it does not
// parse as one. Grounded on original_source's ESRParameters.product,
// which feeds the artifact's identity.purl through PackageURL(...).name.
func ProductName(purl string) string {
	if purl == "" {
		return ""
	}
	instance, err := packageurl.FromString(purl)
	if err != nil {
		return purl
	}
	if instance.Name == "" {
		return purl
	}
	return instance.Name
}

// ValidatePurl confirms purl is a well-formed package URL, surfacing a
// descriptive error instead of silently degrading to the raw string -
// callers that require strict identity (e.g. config verification)
// should use this instead of ProductName.
func ValidatePurl(purl string) error {
	if _, err := packageurl.FromString(purl); err != nil {
		return fmt.Errorf("invalid package url %q: %w", purl, err)
	}
	return nil
}
