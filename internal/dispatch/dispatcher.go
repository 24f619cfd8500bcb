// Package dispatch maps operation names to handlers. The operation set is
// closed: every name is registered at construction with a JSON schema for
// its parameters, and anything else is rejected.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/extract"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"
	"github.com/browserdeck/browserdeck/internal/task"
)

// handlerFunc executes one operation with already-validated parameters.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type operation struct {
	name        string
	description string
	rawSchema   json.RawMessage
	schema      *jsonschema.Schema
	handler     handlerFunc
}

// OpInfo describes one operation for discovery listings.
type OpInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Dispatcher validates and routes operations onto the session registry,
// task manager, and extractor.
type Dispatcher struct {
	registry  *session.Registry
	tasks     *task.Manager
	extractor *extract.Extractor
	log       *logging.Logger
	ops       map[string]*operation
}

// New builds the dispatcher and compiles every operation schema.
func New(registry *session.Registry, tasks *task.Manager, extractor *extract.Extractor, log *logging.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		registry:  registry,
		tasks:     tasks,
		extractor: extractor,
		log:       log.Sub("dispatch"),
		ops:       make(map[string]*operation),
	}

	compiler := jsonschema.NewCompiler()
	for _, def := range d.definitions() {
		url := "browserdeck://ops/" + def.name + ".json"
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.rawSchema))
		if err != nil {
			return nil, fmt.Errorf("parsing schema for %s: %w", def.name, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("registering schema for %s: %w", def.name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", def.name, err)
		}
		def.schema = schema
		d.ops[def.name] = def
	}
	return d, nil
}

// Operations lists the operation set, sorted by name.
func (d *Dispatcher) Operations() []OpInfo {
	infos := make([]OpInfo, 0, len(d.ops))
	for _, op := range d.ops {
		infos = append(infos, OpInfo{
			Name:        op.name,
			Description: op.description,
			Parameters:  op.rawSchema,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke runs one operation. Parameters are validated against the
// operation's schema before the handler sees them; validation failures are
// InvalidParameters and cause no side effects.
func (d *Dispatcher) Invoke(ctx context.Context, name string, params json.RawMessage) (any, error) {
	op, ok := d.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownOperation, name)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return nil, fmt.Errorf("%w: parameters are not valid JSON: %v", domain.ErrInvalidParameters, err)
	}
	if err := op.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}

	d.log.Debug().Str("operation", name).Msg("dispatching")
	return op.handler(ctx, params)
}
