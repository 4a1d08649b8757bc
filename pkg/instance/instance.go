package instance

import (
	"os"
	"strings"
)

// GetID identifies this replica in claim records and logs.
// STOREFRONT_INSTANCE_ID wins, then the hostname, then "checkout-0".
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("STOREFRONT_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "checkout-0"
}
