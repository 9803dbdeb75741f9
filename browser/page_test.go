package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   string
		args []any
		want string
	}{
		{"plain", "document.readyState", nil, "document.readyState"},
		{"arrow", "() => window.devicePixelRatio", nil, "(() => window.devicePixelRatio)()"},
		{"async arrow", "async () => 1", nil, "(async () => 1)()"},
		{"bare param", "x => x * 2", []any{3}, "(x => x * 2)(3)"},
		{"iife with inner arrows", "(function(){ return [1].map(v => v); })();", nil, "(function(){ return [1].map(v => v); })();"},
		{"collector script", InteractiveElementsJS, nil, InteractiveElementsJS},
		{"expression with args", "args[0] + 1", []any{41}, "(function(...args){ return (args[0] + 1); })(41)"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := buildExpression(tt.fn, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
