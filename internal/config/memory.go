package config

import (
	"fmt"

	"github.com/pbnjay/memory"
)

// BufferFootprint is the worst-case memory held by partial messages: every
// slot of the chunk buffer filled up to the message size limit.
func (cfg *SqelfConfig) BufferFootprint() uint64 {
	return uint64(cfg.Receive.MaxIncompleteMessages) * uint64(cfg.Receive.MaxMessageSize)
}

// MemoryWarning describes why the chunk buffer limits look too large for
// this host, or returns "" when they fit. free is the free system memory in
// bytes; 0 means unknown.
func (cfg *SqelfConfig) MemoryWarning(free uint64) string {
	if free == 0 {
		return ""
	}
	footprint := cfg.BufferFootprint()
	if footprint <= free/2 {
		return ""
	}
	return fmt.Sprintf(
		"receive.max_incomplete_messages × receive.max_message_size allows %d MiB of partial messages, free memory is %d MiB",
		footprint>>20, free>>20,
	)
}

// SystemFreeMemory reports free system memory in bytes, 0 if unknown.
func SystemFreeMemory() uint64 {
	return memory.FreeMemory()
}
