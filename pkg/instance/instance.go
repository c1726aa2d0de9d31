package instance

import (
	"os"

	"github.com/angelmondragon/confops/pkg/env"
)

// GetID returns the process instance identifier, falling back to the hostname.
func GetID() string {
	if id := env.Get("CONFOPS_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "confops-0"
}
