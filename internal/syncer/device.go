package syncer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/example/event-checkin/internal/atomicfile"
)

// DeviceIDFileName stores the device id inside the data dir.
const DeviceIDFileName = "device_id"

// DeviceID returns override when set, otherwise the id persisted under dir,
// generating "device_<uuid>" on first use.
func DeviceID(dir, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	path := filepath.Join(dir, DeviceIDFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	id := "device_" + uuid.NewString()
	if err := atomicfile.Write(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
