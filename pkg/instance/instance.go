package instance

import (
	"os"

	"github.com/casier-judiciaire/casier-backend/pkg/env"
)

// GetID identifies this process for lock ownership and relay envelopes.
// WORKER_ID wins, then the hostname.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
