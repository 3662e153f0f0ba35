package action

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
)

func TestRender(t *testing.T) {
	ctx := facts.FactMap{
		"deviceName":  "Front Door",
		"temperature": float64(21.5),
		"count":       float64(3),
		"armed":       true,
		"event":       map[string]any{"payload": map[string]any{"zone": "north"}},
		"tags":        []any{"a", "b"},
	}
	tests := []struct {
		in, want string
	}{
		{"{{deviceName}}", "Front Door"},
		{"{{ deviceName }} at {{temperature}}C", "Front Door at 21.5C"},
		{"count={{count}}", "count=3"},
		{"{{armed}}", "true"},
		{"zone {{event.payload.zone}}", "zone north"},
		{"{{tags}}", `["a","b"]`},
		{"[{{nope}}]", "[]"},
		{"{{event.payload.zone.deeper}}", ""},
		{"no templates", "no templates"},
		{"{{unclosed", "{{unclosed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Render(tt.in, ctx), tt.in)
	}
}
