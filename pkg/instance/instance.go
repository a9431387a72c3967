package instance

import "os"

// GetID returns the fulfillment worker instance identifier or a default value.
func GetID() string {
	if id := os.Getenv("TORRDRIVE_WORKER_ID"); id != "" {
		return id
	}
	return "fulfill-worker-0"
}
