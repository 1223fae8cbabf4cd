// Package invalidation defines the cache invalidation events consumed from Kafka.
package invalidation

import (
	"errors"
	"fmt"
	"time"
)

const OpClear = "clear"

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1, got %d", e.Version)
	}
	if e.Op != OpClear {
		return fmt.Errorf("op must be %q, got %q", OpClear, e.Op)
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
