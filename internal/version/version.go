// ABOUTME: Version information for the receiver
// ABOUTME: Product identity reported by the status API, the TUI and -version
package version

const (
	// Version is the receiver software version
	Version = "0.3.0"

	// Product is the product name
	Product = "Airstream"

	// Manufacturer identifies the software vendor
	Manufacturer = "airstream-go"
)

// String returns the product and version as printed by -version and logged at startup
func String() string {
	return Product + " " + Version
}
