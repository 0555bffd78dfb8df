// Package logredact keeps credentials out of log output. A Handler wraps
// any slog.Handler and rewrites records before they are formatted:
// attribute values under sensitive keys are replaced, registered secret
// values are replaced wherever they appear, and bearer credentials inside
// message text are masked.
package logredact

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeyPatterns match attribute keys whose values must never be
// logged. Keys are lowercased and dashes folded to underscores before
// matching, so "X-Api-Key" and "api_key" both hit.
var sensitiveKeyPatterns = []string{
	"authorization",
	"token",
	"api_key",
	"apikey",
	"secret",
	"password",
}

var bearerRe = regexp.MustCompile(`Bearer\s+\S+`)

// Registry holds secret values to scrub from every record. Safe for
// concurrent use; values registered after handler construction are
// picked up immediately.
type Registry struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds secret values to scrub. Empty strings are ignored. A
// value carrying the Bearer scheme prefix also registers its bare form,
// since the raw token can surface without the prefix.
func (r *Registry) Register(secrets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range secrets {
		if s == "" {
			continue
		}
		r.secrets = append(r.secrets, s)
		if bare := strings.TrimPrefix(s, "Bearer "); bare != s && bare != "" {
			r.secrets = append(r.secrets, bare)
		}
	}
}

func (r *Registry) redact(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.secrets {
		text = strings.ReplaceAll(text, s, Redacted)
	}
	return text
}

// Handler is a redacting slog.Handler middleware.
type Handler struct {
	inner    slog.Handler
	registry *Registry
}

// New wraps inner with redaction. registry may be nil when only
// key-based redaction is wanted.
func New(inner slog.Handler, registry *Registry) *Handler {
	return &Handler{inner: inner, registry: registry}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.scrub(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &Handler{inner: h.inner.WithAttrs(redacted), registry: h.registry}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), registry: h.registry}
}

func (h *Handler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		members := v.Group()
		out := make([]slog.Attr, len(members))
		for i, m := range members {
			out[i] = h.redactAttr(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	if isSensitiveKey(a.Key) && v.Kind() == slog.KindString {
		return slog.String(a.Key, Redacted)
	}
	if v.Kind() == slog.KindString {
		if s := v.String(); s != "" {
			if scrubbed := h.scrub(s); scrubbed != s {
				return slog.String(a.Key, scrubbed)
			}
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h *Handler) scrub(text string) string {
	text = bearerRe.ReplaceAllString(text, "Bearer "+Redacted)
	if h.registry != nil {
		text = h.registry.redact(text)
	}
	return text
}

func isSensitiveKey(key string) bool {
	k := strings.ReplaceAll(strings.ToLower(key), "-", "_")
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}
