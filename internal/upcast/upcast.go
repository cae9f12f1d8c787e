package upcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// Func rewrites one payload from one schema version to the next. Funcs must
// be pure: same input, same output, no reads outside the payload.
type Func func(map[string]any) (map[string]any, error)

type key struct {
	Type domain.EventType
	From int
}

// Registry holds transforms keyed by event type and source version. Stored
// events are never rewritten; upcasting happens on read.
type Registry struct {
	steps map[key]Func
}

func NewRegistry() *Registry {
	r := &Registry{steps: map[key]Func{}}
	r.Register(domain.EventTaskCreated, 1, taskCreatedV1toV2)
	return r
}

func (r *Registry) Register(t domain.EventType, from int, fn Func) {
	r.steps[key{t, from}] = fn
}

// Apply chains registered transforms until the envelope reaches the current
// schema version for its type. A missing step logs a warning and returns
// the envelope as far as it got, so old readers degrade instead of failing.
func (r *Registry) Apply(env domain.Envelope) (domain.Envelope, error) {
	return r.applyTo(env, domain.SchemaVersion(env.Type))
}

func (r *Registry) applyTo(env domain.Envelope, target int) (domain.Envelope, error) {
	if env.SchemaVersion >= target {
		return env, nil
	}
	payload := map[string]any{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return env, fmt.Errorf("upcast %s v%d: %w", env.Type, env.SchemaVersion, err)
		}
	}
	v := env.SchemaVersion
	for v < target {
		fn, ok := r.steps[key{env.Type, v}]
		if !ok {
			slog.Warn("no upcaster registered, returning partial upgrade",
				"type", env.Type, "from", v, "target", target)
			break
		}
		next, err := fn(payload)
		if err != nil {
			return env, fmt.Errorf("upcast %s v%d: %w", env.Type, v, err)
		}
		payload = next
		v++
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	env.SchemaVersion = v
	return env, nil
}

// taskCreatedV1toV2 renames the original "name" field to "title" and fills
// the project field, which v1 events predate.
func taskCreatedV1toV2(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		if k == "name" {
			out["title"] = v
			continue
		}
		out[k] = v
	}
	if _, ok := out["title"]; !ok {
		return nil, fmt.Errorf("v1 payload missing name")
	}
	if _, ok := out["project"]; !ok {
		out["project"] = domain.DefaultProject
	}
	return out, nil
}
