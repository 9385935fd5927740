package trx

import (
	"os"
	"time"
)

// DefaultMarkerPath tells other processes on the host that streaming is
// configured. Nothing in the driver removes it.
const DefaultMarkerPath = "/dev/shm/LMSStreamingActive"

func touchMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}
