package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks_OrderAndDedup(t *testing.T) {
	raw := `{
		"query": "CEO Acme",
		"results": [
			{"title": "Acme team", "link": "https://acme.com/team"},
			{"title": "News", "link": "https://news.example/acme"},
			{"related": {"links": ["https://acme.com/team", "https://wiki.example/Acme", 42]}}
		],
		"zeta": {"link": "https://last.example"},
		"alpha": {"link": "https://after-zeta.example"}
	}`
	v, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://acme.com/team",
		"https://news.example/acme",
		"https://wiki.example/Acme",
		"https://last.example",
		"https://after-zeta.example",
	}, ExtractLinks(v))
}

func TestExtractLinks_NonStringLinkRecurses(t *testing.T) {
	raw := `[{"link": {"link": "https://nested.example"}}, {"links": "not-an-array"}]`
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://nested.example"}, ExtractLinks(v))
}

func TestExtractLinks_LinksArrayDoesNotRecurse(t *testing.T) {
	raw := `{"links": [{"link": "https://hidden.example"}, "https://shown.example"]}`
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shown.example"}, ExtractLinks(v))
}

func TestExtractLinks_PlainMap(t *testing.T) {
	v := map[string]any{
		"b": map[string]any{"link": "https://b.example"},
		"a": []any{map[string]any{"link": "https://a.example"}},
	}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ExtractLinks(v))
}

func TestExtractLinks_Empty(t *testing.T) {
	assert.Empty(t, ExtractLinks(nil))
	assert.Empty(t, ExtractLinks("scalar"))

	v, err := Decode([]byte(`{"results": []}`))
	require.NoError(t, err)
	assert.Empty(t, ExtractLinks(v))
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"b": 1, "a": [true, null, "x"]}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	require.Len(t, obj, 2)
	assert.Equal(t, "b", obj[0].Key)
	assert.Equal(t, "a", obj[1].Key)
	assert.Equal(t, []any{true, nil, "x"}, obj[1].Value)
}

func TestDecode_Errors(t *testing.T) {
	for _, raw := range []string{``, `{"a":`, `[1, 2`, `{"a": 1} {"b": 2}`, `not json`} {
		_, err := Decode([]byte(raw))
		assert.Error(t, err, raw)
	}
}
