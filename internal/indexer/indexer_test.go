package indexer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/types"
)

func heading(t *testing.T, text string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"content": []interface{}{map[string]interface{}{"text": text}},
	})
	require.NoError(t, err)
	return b
}

func bodyWithImage(t *testing.T, text, imgSrc string) json.RawMessage {
	t.Helper()
	content := []interface{}{map[string]interface{}{"text": text}}
	if imgSrc != "" {
		content = append(content, map[string]interface{}{"type": "image", "src": imgSrc})
	}
	b, err := json.Marshal(map[string]interface{}{"content": content})
	require.NoError(t, err)
	return b
}

func section(t *testing.T, id, headingText, bodyText, imgSrc string, children ...*types.OutlineNode) *types.OutlineNode {
	t.Helper()
	return &types.OutlineNode{
		Type:      "outlineSection",
		SectionID: id,
		Heading:   heading(t, headingText),
		Body:      bodyWithImage(t, bodyText, imgSrc),
		Children:  children,
		Extra:     map[string]json.RawMessage{},
	}
}

func TestExtractOutlineSections(t *testing.T) {
	doc := &types.Doc{Root: []*types.OutlineNode{
		section(t, "s1", "Title One", " body one", ""),
		section(t, "s2", "Title Two", " body two", "",
			section(t, "s2a", "Nested", " nested body", "")),
	}}

	got := ExtractOutlineSections("art-1", doc, "2024-01-01T00:00:00Z")
	require.Len(t, got, 3)

	byID := map[string]types.OutlineSection{}
	for _, s := range got {
		byID[s.SectionID] = s
	}

	assert.Equal(t, "Title One", byID["s1"].Title)
	assert.Equal(t, "Title One body one", byID["s1"].Text)
	assert.Equal(t, "art-1", byID["s1"].ArticleID)
	assert.Equal(t, "2024-01-01T00:00:00Z", byID["s1"].UpdatedAt)
	assert.Equal(t, "Nested", byID["s2a"].Title)
}

func TestExtractMediaRefs(t *testing.T) {
	doc := &types.Doc{Root: []*types.OutlineNode{
		section(t, "s1", "Title", "body", "/uploads/a.png"),
		section(t, "s2", "Title", "body", "https://example.com/b.png"),
		section(t, "s3", "Title", "body", "/uploads/a.png"), // duplicate ref
	}}

	refs := ExtractMediaRefs("art-1", doc)
	require.Len(t, refs, 1)
	assert.Equal(t, "/uploads/a.png", refs[0].URL)
	assert.Equal(t, "art-1", refs[0].ArticleID)
}

func TestExtractTags(t *testing.T) {
	doc := &types.Doc{Root: []*types.OutlineNode{
		section(t, "s1", "Meeting #work notes", "discuss #Project-X and #work again", ""),
	}}

	tags := ExtractTags(doc)
	assert.ElementsMatch(t, []string{"work", "project-x"}, tags)
}

func TestExtractPlainTextHandlesNestedContent(t *testing.T) {
	raw := heading(t, "hello world")
	assert.Equal(t, "hello world", ExtractPlainText(raw))
	assert.Equal(t, "", ExtractPlainText(nil))
	assert.Equal(t, "", ExtractPlainText(json.RawMessage(`not json`)))
}
