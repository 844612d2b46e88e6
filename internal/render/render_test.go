package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesBindings(t *testing.T) {
	out, err := TemplateRenderer{}.Render(
		[]byte("Style: {{.style}}\nRules: {{.rules}}\n"),
		map[string]string{"style": "be kind", "rules": "no bikeshedding"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Style: be kind\nRules: no bikeshedding\n", string(out))
}

func TestRenderNoChildrenPassthrough(t *testing.T) {
	body := []byte("Literal {{.style}} stays\n")
	out, err := TemplateRenderer{}.Render(body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestRenderBinaryPassthrough(t *testing.T) {
	body := []byte{0x00, 0xff, 0x42, 0x00}
	out, err := TemplateRenderer{}.Render(body, map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestRenderMissingBindingFails(t *testing.T) {
	_, err := TemplateRenderer{}.Render(
		[]byte("{{.missing}}"),
		map[string]string{"present": "x"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing template")
}

func TestRenderMalformedTemplateFails(t *testing.T) {
	_, err := TemplateRenderer{}.Render(
		[]byte("{{.unclosed"),
		map[string]string{"unclosed": "x"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing template")
}
