// Package lifecycle provides lifecycle management for a site process:
// ordered pre/post start and stop hooks, used by cmd/site to sequence store
// opening, replica bootstrap, HTTP server start, and graceful shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// HookFunc is a function that runs during a lifecycle phase.
type HookFunc func(ctx context.Context) error

// NamedHook is a hook with an optional name for error reporting.
type NamedHook struct {
	Name string
	Fn   HookFunc
}

// Hooks manages a site's pre/post start/stop hooks.
type Hooks struct {
	mu sync.RWMutex

	preStart  []NamedHook
	postStart []NamedHook
	preStop   []NamedHook
	postStop  []NamedHook
}

// NewHooks creates an empty Hooks.
func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) OnPreStart(fn HookFunc)  { h.OnPreStartNamed("", fn) }
func (h *Hooks) OnPostStart(fn HookFunc) { h.OnPostStartNamed("", fn) }
func (h *Hooks) OnPreStop(fn HookFunc)   { h.OnPreStopNamed("", fn) }
func (h *Hooks) OnPostStop(fn HookFunc)  { h.OnPostStopNamed("", fn) }

func (h *Hooks) OnPreStartNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preStart = append(h.preStart, NamedHook{Name: name, Fn: fn})
}

func (h *Hooks) OnPostStartNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postStart = append(h.postStart, NamedHook{Name: name, Fn: fn})
}

func (h *Hooks) OnPreStopNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preStop = append(h.preStop, NamedHook{Name: name, Fn: fn})
}

func (h *Hooks) OnPostStopNamed(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postStop = append(h.postStop, NamedHook{Name: name, Fn: fn})
}

// RunPreStart runs all pre-start hooks in order, stopping at the first error.
func (h *Hooks) RunPreStart(ctx context.Context) error {
	return h.run(ctx, "PreStart", h.snapshot(&h.preStart))
}

// RunPostStart runs all post-start hooks in order, stopping at the first error.
func (h *Hooks) RunPostStart(ctx context.Context) error {
	return h.run(ctx, "PostStart", h.snapshot(&h.postStart))
}

// RunPreStop runs all pre-stop hooks in order, stopping at the first error.
func (h *Hooks) RunPreStop(ctx context.Context) error {
	return h.run(ctx, "PreStop", h.snapshot(&h.preStop))
}

// RunPostStop runs all post-stop hooks in LIFO order, so cleanup happens in
// the reverse of setup order.
func (h *Hooks) RunPostStop(ctx context.Context) error {
	hooks := h.snapshot(&h.postStop)
	for i, j := 0, len(hooks)-1; i < j; i, j = i+1, j-1 {
		hooks[i], hooks[j] = hooks[j], hooks[i]
	}
	return h.run(ctx, "PostStop", hooks)
}

func (h *Hooks) snapshot(hooks *[]NamedHook) []NamedHook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]NamedHook, len(*hooks))
	copy(out, *hooks)
	return out
}

func (h *Hooks) run(ctx context.Context, phase string, hooks []NamedHook) error {
	for i, hook := range hooks {
		if hook.Fn == nil {
			continue
		}
		if err := hook.Fn(ctx); err != nil {
			if hook.Name != "" {
				return fmt.Errorf("%s hook %q (#%d) failed: %w", phase, hook.Name, i, err)
			}
			return fmt.Errorf("%s hook #%d failed: %w", phase, i, err)
		}
	}
	return nil
}
