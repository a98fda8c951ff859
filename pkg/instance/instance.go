package instance

import "github.com/angelmondragon/fieldops-backend/pkg/env"

// GetID returns the process instance identifier used in logs and outbox claims.
// FIELDOPS_INSTANCE_ID wins over the platform-provided DYNO and HOSTNAME.
func GetID(fallback string) string {
	return env.First(fallback, "FIELDOPS_INSTANCE_ID", "DYNO", "HOSTNAME")
}
