package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID builds a correlation id: unix millis, random suffix, short content hash.
func NewID(now time.Time, checksum string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	hash := "0000000"
	if len(checksum) >= 7 {
		hash = checksum[:7]
	}
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), suffix, hash)
}
