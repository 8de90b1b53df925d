package sim

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CCCD (Client Characteristic Configuration Descriptor) values
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
)

// ErrInvalidCCCDLength mirrors ATT's "Invalid Attribute Value Length" for CCCD writes
var ErrInvalidCCCDLength = errors.New("sim: CCCD value must be 2 bytes")

// EnableNotificationValue is what a central writes to turn notifications on
var EnableNotificationValue = []byte{0x01, 0x00}

// cccdTable tracks which characteristics a single link subscribed to.
// Each link has independent CCCD state; it is discarded when the link closes.
type cccdTable struct {
	mu     sync.RWMutex
	notify map[uuid.UUID]bool
}

func newCCCDTable() *cccdTable {
	return &cccdTable{notify: make(map[uuid.UUID]bool)}
}

// write applies a CCCD value (2 bytes, little-endian)
func (c *cccdTable) write(char uuid.UUID, value []byte) error {
	if len(value) != 2 {
		return ErrInvalidCCCDLength
	}
	v := binary.LittleEndian.Uint16(value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if v&(CCCDNotificationsEnabled|CCCDIndicationsEnabled) == 0 {
		delete(c.notify, char)
		return nil
	}
	c.notify[char] = true
	return nil
}

func (c *cccdTable) subscribed(char uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notify[char]
}
