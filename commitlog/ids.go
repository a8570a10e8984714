package commitlog

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
	"github.com/vx-labs/perch/catalog"
)

const (
	ULIDGenerator = "ulid"
	UUIDGenerator = "uuid"
)

// IDGenerator assigns IDs to messages produced without one.
type IDGenerator interface {
	NewID() MessageID
}

func NewIDGenerator(kind string) (IDGenerator, error) {
	switch kind {
	case ULIDGenerator, "":
		return &ulidGenerator{
			entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		}, nil
	case UUIDGenerator:
		return uuidGenerator{}, nil
	default:
		return nil, catalog.InvalidConfiguration("unknown id generator " + kind)
	}
}

type ulidGenerator struct {
	mtx     sync.Mutex
	entropy io.Reader
}

func (g *ulidGenerator) NewID() MessageID {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return MessageID(ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy))
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() MessageID {
	return MessageID(uuid.New())
}
