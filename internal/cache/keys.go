package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ResultKey(contentKey string) string {
	return fmt.Sprintf("extract:result:%s", contentKey)
}

func ResultLockKey(contentKey string) string {
	return fmt.Sprintf("extract:lock:%s", contentKey)
}

func RateWindowKey(identity string, windowID int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", identity, windowID)
}
