package trx

import (
	"context"
	"fmt"
	"sync"

	"github.com/rjboer/GoTRX/internal/sdr"
)

// claims tracks which devices are owned by a live Driver in this process.
// Two drivers on the same board would fight over its streams.
type claims struct {
	mu    sync.Mutex
	owned map[string]struct{}
}

var openDevices = &claims{owned: make(map[string]struct{})}

func (c *claims) claim(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owned[key]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, key)
	}
	c.owned[key] = struct{}{}
	return nil
}

func (c *claims) release(key string) {
	c.mu.Lock()
	delete(c.owned, key)
	c.mu.Unlock()
}

// openDevice selects the index-th enumerated device, claims it and opens it.
// Index validation happens before any call reaches hardware.
func openDevice(ctx context.Context, enum sdr.Enumerator, index int) (sdr.Device, sdr.Info, error) {
	if enum == nil {
		return nil, sdr.Info{}, fmt.Errorf("%w: no device enumerator", ErrDeviceNotFound)
	}
	list, err := enum.List(ctx)
	if err != nil {
		return nil, sdr.Info{}, fmt.Errorf("%w: list devices: %w", ErrDeviceNotFound, err)
	}
	if index < 0 || index >= len(list) {
		return nil, sdr.Info{}, fmt.Errorf("%w: index %d, %d board(s) found", ErrDeviceNotFound, index, len(list))
	}

	info := list[index]
	key := info.String()
	if err := openDevices.claim(key); err != nil {
		return nil, sdr.Info{}, err
	}
	dev, err := enum.Open(ctx, info)
	if err != nil {
		openDevices.release(key)
		return nil, sdr.Info{}, fmt.Errorf("%w: open %s: %w", ErrDeviceNotFound, key, err)
	}
	return dev, info, nil
}

// closeDevice releases the device and its claim.
func closeDevice(dev sdr.Device, info sdr.Info) error {
	defer openDevices.release(info.String())
	return dev.Close()
}
