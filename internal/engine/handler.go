package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/tracing"
	"github.com/zjrosen/hotswap/internal/watcher"
)

// watchHandler applies settled file system changes under one root.
type watchHandler struct {
	engine *Engine
	root   string
}

func (h *watchHandler) Changed(path string) {
	ctx, span := tracing.Start(context.Background(), h.engine.tracer, tracing.SpanWatchSettle,
		attribute.String(tracing.AttrRoot, h.root),
		attribute.String(tracing.AttrScriptPath, path),
	)
	err := h.engine.reload(ctx, path)
	tracing.End(span, err)
}

func (h *watchHandler) Deleted(path string) {
	log.Debug(log.CatEngine, "watched path deleted", "path", path)
	h.engine.forget(path)
}

func (h *watchHandler) Renamed(oldPath, newPath string) bool {
	moved := h.engine.move(oldPath, newPath)
	log.Debug(log.CatEngine, "watched path renamed", "from", oldPath, "to", newPath, "moved", moved)
	return moved
}

func (h *watchHandler) WatchError(err error) {
	h.engine.events.Error(fmt.Errorf("watch %s: %w", h.root, err))
}

var _ watcher.Handler = (*watchHandler)(nil)
