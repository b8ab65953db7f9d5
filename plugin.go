package campusmail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/campusmail/store"
)

// Plugin defines the interface for service extensions.
// Plugins are initialized on Connect and closed on Close.
//
// For observing reads, flags, and deletions, subscribe to Service.Events().
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// SendHook is called around message delivery, both for direct sends from
// Compose and for SendDraft.
type SendHook interface {
	Plugin
	// BeforeSend is called with the message about to be delivered.
	// Return an error to abort; nothing is stored or changed.
	BeforeSend(ctx context.Context, msg *store.Message) error
	// AfterSend is called with the delivered message. The message is already
	// sent; an error here is reported to the caller alongside it.
	AfterSend(ctx context.Context, msg *store.Message) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Hooks receive clones so a plugin cannot mutate stored state.

func (r *pluginRegistry) beforeSend(ctx context.Context, msg *store.Message) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, msg.Clone()); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSend(ctx context.Context, msg *store.Message) error {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, msg.Clone()); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSend", Err: err}
		}
	}
	return nil
}
