package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"golang.org/x/sync/singleflight"
)

// Registry validates event payloads against contracts from a Source.
// Compiled contracts are cached by fingerprint, so an edited file is
// recompiled on the next lookup.
type Registry struct {
	source      Source
	strictProto bool

	mu           sync.RWMutex
	compiled     map[string]*compiled
	compileGroup singleflight.Group
}

type Option func(*Registry)

// WithStrictProto rejects payload keys a protobuf message does not declare.
// YAML contracts opt in per file with strictMode.
func WithStrictProto(strict bool) Option {
	return func(r *Registry) { r.strictProto = strict }
}

func NewRegistry(source Source, opts ...Option) *Registry {
	r := &Registry{
		source:   source,
		compiled: make(map[string]*compiled),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks event.Payload against the contract named by the
// schema_version metadata entry. Events without it pass unchecked.
func (r *Registry) Validate(ctx context.Context, event v1.DomainEvent) error {
	raw, ok := event.Metadata[MetadataVersionKey]
	if !ok {
		return nil
	}
	version, err := parseVersion(raw)
	if err != nil {
		return coreerr.Validationf("metadata."+MetadataVersionKey, "%v", err)
	}

	key := Key{EventType: event.EventType, Version: version}
	c, err := r.source.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return coreerr.Validationf("metadata."+MetadataVersionKey, "no contract %s", key)
	}
	if err != nil {
		return fmt.Errorf("failed to load contract %s: %w", key, err)
	}

	cc, err := r.getOrCompile(ctx, c)
	if err != nil {
		return err
	}

	var v violations
	switch cc.format {
	case FormatYAML:
		cc.yaml.validate(event.Payload, &v)
	case FormatProtobuf:
		validateMessage(cc.proto, event.Payload, cc.strict, "", &v)
	}
	if err := v.asError(key); err != nil {
		slog.Debug("[Contracts] Payload rejected",
			"event_type", event.EventType,
			"event_id", event.EventID,
			"version", version,
			"violations", len(v))
		return err
	}
	return nil
}

// List returns the raw contracts for eventType, or all when empty.
func (r *Registry) List(ctx context.Context, eventType string) ([]*Contract, error) {
	return r.source.List(ctx, eventType)
}

func (r *Registry) getOrCompile(ctx context.Context, c *Contract) (*compiled, error) {
	cacheKey := fmt.Sprintf("%s:%d:%s", c.EventType, c.Version, c.Fingerprint)

	r.mu.RLock()
	cc, ok := r.compiled[cacheKey]
	r.mu.RUnlock()
	if ok {
		return cc, nil
	}

	result, err, _ := r.compileGroup.Do(cacheKey, func() (interface{}, error) {
		r.mu.RLock()
		cc, ok := r.compiled[cacheKey]
		r.mu.RUnlock()
		if ok {
			return cc, nil
		}

		cc, err := r.compile(ctx, c)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.compiled[cacheKey] = cc
		r.mu.Unlock()

		slog.Info("[Contracts] Compiled contract",
			"event_type", c.EventType,
			"version", c.Version,
			"format", c.Format)
		return cc, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*compiled), nil
}

func (r *Registry) compile(ctx context.Context, c *Contract) (*compiled, error) {
	cc := &compiled{key: c.Key(), format: c.Format}
	switch c.Format {
	case FormatYAML:
		spec, err := parseSpec(cc.key, c.Definition)
		if err != nil {
			return nil, err
		}
		cc.yaml = spec
		cc.strict = spec.StrictMode
	case FormatProtobuf:
		md, err := compileProto(ctx, cc.key, c.Definition)
		if err != nil {
			return nil, err
		}
		cc.proto = md
		cc.strict = r.strictProto
	default:
		return nil, fmt.Errorf("unsupported contract format %q", c.Format)
	}
	return cc, nil
}

func parseVersion(raw interface{}) (int, error) {
	var n int
	switch x := raw.(type) {
	case string:
		parsed, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", x)
		}
		n = parsed
	default:
		f, ok := toFloat(raw)
		if !ok || f != float64(int(f)) {
			return 0, fmt.Errorf("must be an integer, got %v", raw)
		}
		n = int(f)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be >= 1, got %d", n)
	}
	return n, nil
}
