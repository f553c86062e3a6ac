package memory

import (
	"testing"

	"github.com/jola2802/iot-gateway-sub000/internal/store"
	"github.com/jola2802/iot-gateway-sub000/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
