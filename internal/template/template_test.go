package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderVariables(t *testing.T) {
	ctx := map[string]any{
		"name":  "world",
		"count": float64(3),
		"page":  map[string]any{"url": "https://example.com", "title": "Home"},
	}

	assert.Equal(t, "hello world", Render("hello {{name}}", ctx))
	assert.Equal(t, "3 items", Render("{{count}} items", ctx))
	assert.Equal(t, "at https://example.com", Render("at {{page.url}}", ctx))
	assert.Equal(t, "", Render("{{missing}}", ctx))
	assert.Equal(t, "", Render("{{page.missing.deeper}}", ctx))
}

func TestRenderEscaping(t *testing.T) {
	ctx := map[string]any{"html": `<b>"bold"</b>`}

	assert.Equal(t, "&lt;b&gt;&#34;bold&#34;&lt;/b&gt;", Render("{{html}}", ctx))
	assert.Equal(t, `<b>"bold"</b>`, Render("{{{html}}}", ctx))
}

func TestRenderSections(t *testing.T) {
	ctx := map[string]any{
		"ready": true,
		"empty": "",
		"tags":  []any{"a", "b"},
	}

	assert.Equal(t, "go", Render("{{#ready}}go{{/ready}}", ctx))
	assert.Equal(t, "", Render("{{#empty}}x{{/empty}}", ctx))
	assert.Equal(t, "has tags", Render("{{#tags}}has tags{{/tags}}", ctx))
	assert.Equal(t, "none", Render("{{^empty}}none{{/empty}}", ctx))
	assert.Equal(t, "", Render("{{^ready}}off{{/ready}}", ctx))
	assert.Equal(t, "none", Render("{{^absent}}none{{/absent}}", ctx))
}

func TestRenderSectionBodyUsesSameContext(t *testing.T) {
	ctx := map[string]any{"user": map[string]any{"name": "ada"}, "show": true}
	assert.Equal(t, "hi ada", Render("{{#show}}hi {{user.name}}{{/show}}", ctx))
}

func TestRenderNestedSections(t *testing.T) {
	ctx := map[string]any{"a": true, "b": false}
	out := Render("{{#a}}1{{#a}}2{{/a}}3{{#b}}x{{/b}}{{/a}}", ctx)
	assert.Equal(t, "123", out)
}

func TestRenderUnclosedSectionIsLiteral(t *testing.T) {
	ctx := map[string]any{"a": true}
	assert.Equal(t, "{{#a}}body", Render("{{#a}}body", ctx))
}

func TestRenderHermetic(t *testing.T) {
	tmpl := "{{greeting}}, {{user.name}}! {{#urgent}}NOW{{/urgent}}"
	ctx := map[string]any{
		"greeting": "hi",
		"user":     map[string]any{"name": "bo"},
		"urgent":   true,
	}

	first := Render(tmpl, ctx)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Render(tmpl, ctx))
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(nil))
	assert.Equal(t, "12", Format(float64(12)))
	assert.Equal(t, "1.5", Format(1.5))
	assert.Equal(t, "true", Format(true))
	assert.Equal(t, `["x"]`, Format([]any{"x"}))
	assert.Equal(t, `{"k":1}`, Format(map[string]any{"k": 1}))
}
