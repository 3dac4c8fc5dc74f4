package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

const deviceSuffixLength = 9

var deviceSuffix = mustDeviceSuffixGenerator()

func mustDeviceSuffixGenerator() func() string {
	gen, err := nanoid.CustomASCII("0123456789abcdefghijklmnopqrstuvwxyz", deviceSuffixLength)
	if err != nil {
		panic(fmt.Sprintf("schema: device id generator: %v", err))
	}
	return gen
}

// NewID returns a random identifier for a new record. Ids are generated on
// the client so devices writing concurrently never collide.
func NewID() string {
	return uuid.NewString()
}

// NewDeviceID returns an identifier for this installation: device_<unix ms>_<random>.
func NewDeviceID(now time.Time) string {
	return fmt.Sprintf("device_%d_%s", now.UnixMilli(), deviceSuffix())
}
