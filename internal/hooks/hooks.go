package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"

	"go.uber.org/zap"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookSessionStart is called when an agent session starts
	HookSessionStart HookType = "session_start"

	// HookSessionEnd is called when an agent session ends
	HookSessionEnd HookType = "session_end"

	// HookStep is called after each observed transition
	HookStep HookType = "step"

	// HookRemember is called to store a fact in working memory
	HookRemember HookType = "remember"
)

// ErrUnknownHook is returned for an event whose hook type is not one of
// the HookType constants.
var ErrUnknownHook = errors.New("unknown hook type")

// Valid reports whether h is a known hook type.
func (h HookType) Valid() bool {
	switch h {
	case HookSessionStart, HookSessionEnd, HookStep, HookRemember:
		return true
	}
	return false
}

// HookHandler handles a hook event. The returned map is merged into the
// event response; nil is fine.
type HookHandler func(ctx context.Context, data map[string]any) (map[string]any, error)

// HookManager manages lifecycle hooks
type HookManager struct {
	config   *Config
	handlers map[HookType][]HookHandler
	logger   *zap.Logger
}

// Option configures a HookManager.
type Option func(*HookManager)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(h *HookManager) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHookManager creates a new hook manager. A nil config uses
// DefaultConfig.
func NewHookManager(config *Config, opts ...Option) *HookManager {
	if config == nil {
		config = DefaultConfig()
	}
	h := &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs every handler for hookType in registration order and merges
// their output. Later handlers overwrite keys set by earlier ones. The first
// failing handler stops the chain.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, data map[string]any) (map[string]any, error) {
	if !hookType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHook, hookType)
	}
	out := map[string]any{"hook": string(hookType)}
	handlers, ok := h.handlers[hookType]
	if !ok {
		// No handlers registered - not an error
		return out, nil
	}
	if data == nil {
		data = map[string]any{}
	}

	for _, handler := range handlers {
		res, err := handler(ctx, data)
		if err != nil {
			h.logger.Warn("hook handler failed", zap.String("hook", string(hookType)), zap.Error(err))
			return nil, fmt.Errorf("hook %s failed: %w", hookType, err)
		}
		maps.Copy(out, res)
	}

	return out, nil
}

// Config returns the hook configuration
func (h *HookManager) Config() *Config {
	return h.config
}

// ParseEvent reads one JSON object from r. The "hook" key names the hook
// type; the remaining keys are the event data.
func ParseEvent(r io.Reader) (HookType, map[string]any, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return "", nil, fmt.Errorf("failed to decode hook event: %w", err)
	}
	name, _ := raw["hook"].(string)
	hookType := HookType(name)
	if !hookType.Valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}
	delete(raw, "hook")
	return hookType, raw, nil
}
