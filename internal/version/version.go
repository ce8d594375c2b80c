// ABOUTME: Version and product identification constants
// ABOUTME: Reported by the CLI, the monitor endpoint and mDNS records
package version

const (
	// Version is the release version
	Version = "0.3.0"

	// Product is the product name
	Product = "Playthrough"

	// Manufacturer identifies the maintainer
	Manufacturer = "Resonate"
)

// String returns "Product Version"
func String() string {
	return Product + " " + Version
}
