package simulation

import (
	"fmt"
	"sort"

	"github.com/simhaus/simhaus/internal/device"
)

// BuildFleet populates the engine from a device-count map, keyed by
// device type. Instances get sequential IDs ("led-bulb-1", "led-bulb-2")
// so their topics read naturally. Types are processed in sorted order so
// repeated runs produce the same fleet.
//
// An unknown device type fails the whole build with
// schema.ErrUnknownDeviceType; devices added before the failure stay in
// the fleet.
func BuildFleet(e *Engine, counts map[string]int) error {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	total := 0
	for _, deviceType := range types {
		for i := 0; i < counts[deviceType]; i++ {
			d, err := device.New(fmt.Sprintf("%s-%d", deviceType, i+1), deviceType)
			if err != nil {
				return fmt.Errorf("building fleet: %w", err)
			}
			if err := e.AddDevice(d); err != nil {
				return fmt.Errorf("building fleet: %w", err)
			}
			total++
		}
	}

	e.logger.Info("fleet built", "devices", total, "types", len(types))
	return nil
}
