package memory_test

import (
	"testing"

	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/store/memory"
	"github.com/warp/lease-engine/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}
