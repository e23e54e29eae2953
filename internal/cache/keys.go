package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobLockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("docanalyzer:lock:job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("docanalyzer:ratelimit:%s", keyPrefix)
}
