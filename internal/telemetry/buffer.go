package telemetry

import (
	"sync"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// DefaultBufferSize je počet čtení, která buffer drží pro přeposílání.
const DefaultBufferSize = 50000

// Buffer je omezená fronta čtení s pořadovými čísly. Každý čtenář (routa)
// si drží vlastní kurzor a čte jen to, co přibylo od posledního čtení.
// Při přetečení se přepisují nejstarší čtení.
type Buffer struct {
	mu       sync.Mutex
	size     int
	ring     []model.Reading
	head     int    // index nejstaršího čtení v ring
	count    int    // počet platných čtení
	firstSeq uint64 // pořadové číslo nejstaršího čtení
}

// NewBuffer vytvoří buffer pro size čtení.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size, firstSeq: 1}
}

// Append přidá čtení. Volá se pro každou zprávu, nesmí alokovat.
func (b *Buffer) Append(r model.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ring == nil {
		b.ring = make([]model.Reading, b.size)
	}
	if b.count < b.size {
		b.ring[(b.head+b.count)%b.size] = r
		b.count++
		return
	}
	b.ring[b.head] = r
	b.head = (b.head + 1) % b.size
	b.firstSeq++
}

// Cursor vrací kurzor, od kterého začne čtenář, který se připojil teď.
func (b *Buffer) Cursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstSeq + uint64(b.count)
}

// Since vrací čtení zařízení z devices přidaná od kurzoru a nový kurzor.
// Prázdná množina devices znamená všechna zařízení.
func (b *Buffer) Since(cursor uint64, devices map[int64]bool) ([]model.Reading, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.firstSeq + uint64(b.count)
	start := 0
	if cursor > b.firstSeq {
		start = int(cursor - b.firstSeq)
	}
	if start >= b.count {
		return nil, next
	}

	var out []model.Reading
	for i := start; i < b.count; i++ {
		r := b.ring[(b.head+i)%b.size]
		if len(devices) == 0 || devices[r.DeviceID] {
			out = append(out, r)
		}
	}
	return out, next
}
