package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/armature-dev/armature/engine"
)

// Invalidator drops a collection's cached responses when the engine
// commits a write to it. Deletion is synchronous so a caller's
// follow-up read never serves the entry its own write invalidated.
type Invalidator struct {
	cache Cache
	log   *zap.Logger
}

// NewInvalidator wires a cache into the engine's event stream.
func NewInvalidator(c Cache, log *zap.Logger) *Invalidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invalidator{cache: c, log: log}
}

// Publish implements engine.Sink.
func (i *Invalidator) Publish(ev engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := i.cache.DeletePrefix(ctx, CollectionPrefix(ev.Collection)); err != nil {
		i.log.Warn("cache invalidation failed",
			zap.String("collection", ev.Collection),
			zap.Error(err),
		)
	}
}
