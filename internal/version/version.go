// ABOUTME: Version constants for device identification
// ABOUTME: Reported in JoinSession and the discovery display info
package version

const (
	// Version is the software version announced to controllers.
	Version = "0.3.0"

	// Product is the model name shown in the controller's device list.
	Product = "QBZ Renderer"

	// Manufacturer is the brand string announced alongside the product.
	Manufacturer = "qbz-connect"

	// SDKVersion is the connect SDK compatibility level advertised in the
	// mDNS TXT record.
	SDKVersion = "1.3.0"
)
