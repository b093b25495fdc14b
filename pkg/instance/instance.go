package instance

import (
	"os"
	"strings"
)

const defaultID = "worker-0"

// GetID names this replica in logs and broker consumer tags. It prefers
// CREATORPAY_INSTANCE_ID, then the host name.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("CREATORPAY_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}
