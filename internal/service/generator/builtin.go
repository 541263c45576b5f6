package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/ifuryst/reposter/internal/models"
)

// RegisterBuiltins adds the generators that ship with the service.
func RegisterBuiltins(r *Registry) error {
	for _, g := range []Generator{
		&Static{},
		&RandomLine{},
	} {
		if err := r.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Static publishes the same text and images every run.
type Static struct{}

func (s *Static) ID() string   { return "static" }
func (s *Static) Name() string { return "Static text" }

func (s *Static) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "text", Type: ParamString, Required: true, Description: "Post text"},
		{Name: "images", Type: ParamStringList, Description: "Image URLs to attach"},
	}
}

func (s *Static) Generate(ctx context.Context, params map[string]interface{}) (*Content, error) {
	text := stringParam(params, "text")
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}
	return &Content{Text: text, Attachments: photos(stringListParam(params, "images"))}, nil
}

// RandomLine picks one line out of a list on every run.
type RandomLine struct {
	// Intn defaults to math/rand.
	Intn func(n int) int
}

func (g *RandomLine) ID() string   { return "random_line" }
func (g *RandomLine) Name() string { return "Random line" }

func (g *RandomLine) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "lines", Type: ParamStringList, Required: true, Description: "Candidate lines, one is picked per run"},
		{Name: "images", Type: ParamStringList, Description: "Image URLs, one is picked per run"},
	}
}

func (g *RandomLine) Generate(ctx context.Context, params map[string]interface{}) (*Content, error) {
	lines := stringListParam(params, "lines")
	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines to pick from")
	}
	intn := g.Intn
	if intn == nil {
		intn = rand.IntN
	}

	content := &Content{Text: lines[intn(len(lines))]}
	if images := stringListParam(params, "images"); len(images) > 0 {
		content.Attachments = photos([]string{images[intn(len(images))]})
	}
	return content, nil
}

func photos(urls []string) []models.Attachment {
	if len(urls) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.Attachment{Type: models.AttachmentPhoto, URL: u})
	}
	return out
}

func stringParam(params map[string]interface{}, name string) string {
	v, ok := params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// stringListParam accepts a JSON array or a newline separated string.
func stringListParam(params map[string]interface{}, name string) []string {
	var raw []string
	switch v := params[name].(type) {
	case []string:
		raw = v
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(v, "\n")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
