// Package generator holds content generators that tasks can use instead of
// selecting stored items.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ifuryst/reposter/internal/models"
)

var ErrUnknownGenerator = errors.New("unknown generator")

type ParamType string

const (
	ParamString     ParamType = "string"
	ParamStringList ParamType = "string_list"
)

type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

// Content is what a generator produces for one run.
type Content struct {
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
}

type Generator interface {
	ID() string
	Name() string
	Params() []ParamSpec
	Generate(ctx context.Context, params map[string]interface{}) (*Content, error)
}

type Info struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Params []ParamSpec `json:"params"`
}

// Registry maps generator ids to implementations. Register everything during
// startup; lookups afterwards may run concurrently.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

func (r *Registry) Register(g Generator) error {
	if g.ID() == "" {
		return fmt.Errorf("generator id is empty")
	}
	if _, ok := r.generators[g.ID()]; ok {
		return fmt.Errorf("generator %q already registered", g.ID())
	}
	r.generators[g.ID()] = g
	return nil
}

func (r *Registry) Get(id string) (Generator, error) {
	g, ok := r.generators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, id)
	}
	return g, nil
}

func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.generators))
	for _, g := range r.generators {
		out = append(out, Info{ID: g.ID(), Name: g.Name(), Params: g.Params()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks that id is registered and every required param is set.
func (r *Registry) Validate(id string, params map[string]interface{}) error {
	g, err := r.Get(id)
	if err != nil {
		return err
	}
	for _, p := range g.Params() {
		if !p.Required {
			continue
		}
		switch p.Type {
		case ParamStringList:
			if len(stringListParam(params, p.Name)) == 0 {
				return fmt.Errorf("generator %s: param %q is required", id, p.Name)
			}
		default:
			if stringParam(params, p.Name) == "" {
				return fmt.Errorf("generator %s: param %q is required", id, p.Name)
			}
		}
	}
	return nil
}

func (r *Registry) Generate(ctx context.Context, id string, params map[string]interface{}) (*Content, error) {
	g, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	content, err := g.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with %s: %w", id, err)
	}
	return content, nil
}
