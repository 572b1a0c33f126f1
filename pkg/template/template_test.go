package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_FlatAndNestedPaths(t *testing.T) {
	data := map[string]any{
		"client_id": "C1",
		"client": map[string]any{
			"name":  "Ada",
			"phone": "+15550100",
		},
		"invoice": map[string]any{
			"total": 120.5,
			"count": 3,
			"paid":  true,
		},
	}

	assert.Equal(t, "Hi C1", Render("Hi {{client_id}}", data))
	assert.Equal(t, "Hello Ada, call +15550100", Render("Hello {{client.name}}, call {{client.phone}}", data))
	assert.Equal(t, "Total 120.5 for 3 items, paid: true", Render("Total {{invoice.total}} for {{invoice.count}} items, paid: {{invoice.paid}}", data))
}

func TestRender_PartialResolution(t *testing.T) {
	data := map[string]any{"invoice": map[string]any{"number": "INV-9"}}

	result := Render("Invoice {{invoice.number}} due {{invoice.due_date}}", data)

	assert.Equal(t, "Invoice INV-9 due {{invoice.due_date}}", result)
}

func TestRender_UnresolvedTokenPreserved(t *testing.T) {
	assert.Equal(t, "{{missing.path}}", Render("{{missing.path}}", map[string]any{}))
	assert.Equal(t, "{{missing.path}}", Render("{{missing.path}}", nil))
}

func TestRender_NotATemplateToken(t *testing.T) {
	data := map[string]any{"name": "Ada"}

	assert.Equal(t, "{{ name }}", Render("{{ name }}", data))
	assert.Equal(t, "{{}}", Render("{{}}", data))
	assert.Equal(t, "plain text", Render("plain text", data))
}

func TestRender_NullRendersEmpty(t *testing.T) {
	assert.Equal(t, "Notes: ", Render("Notes: {{notes}}", map[string]any{"notes": nil}))
}

func TestRender_FullyResolvedIsIdempotent(t *testing.T) {
	data := map[string]any{
		"job":    map[string]any{"title": "Boiler service", "id": "J7"},
		"client": map[string]any{"name": "Ada"},
	}
	tpl := "{{client.name}}: {{job.title}} ({{job.id}})"

	once := Render(tpl, data)
	twice := Render(once, data)

	assert.Equal(t, "Ada: Boiler service (J7)", once)
	assert.Equal(t, once, twice)
	assert.False(t, strings.Contains(once, "{{"))
	assert.False(t, strings.Contains(once, "}}"))
}

func TestRender_NoRecursiveExpansion(t *testing.T) {
	data := map[string]any{"a": "{{b}}", "b": "nope"}

	assert.Equal(t, "{{b}}", Render("{{a}}", data))
}
