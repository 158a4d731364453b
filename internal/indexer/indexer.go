// Package indexer walks a docJson outline tree to derive the outline
// sections, tag occurrences, and referenced media URLs that the article
// cache keeps as separate, queryable indices (spec.md §3, §4.3).
//
// The tree is a pure value (outlineSection -> outlineChildren ->
// outlineSection -> ...); per spec.md §9 this package walks it with an
// explicit stack rather than recursion so a pathologically deep or wide
// tree cannot blow the call stack.
package indexer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/noteweave/outlinesync/internal/types"
)

// UploadsPathPrefix identifies an image src as a same-origin upload the
// media prefetch loop should track, as opposed to an external image URL.
const UploadsPathPrefix = "/uploads/"

// tagPattern matches inline "#tag" tokens inside section title/body text.
// The rich-text schema carries no dedicated tag node (spec.md §1 scopes
// rich-text inspection down to sectionId/heading/body/children/collapsed/
// image-src), so tags are recovered from plain text the same way the
// sections themselves are: by walking to the leaf text runs.
var tagPattern = regexp.MustCompile(`#([A-Za-z0-9_][A-Za-z0-9_-]*)`)

// ExtractPlainText walks an opaque rich-text JSON value (heading or body)
// and concatenates every leaf "text" string it finds, in document order.
// A nil or unparseable value yields "".
func ExtractPlainText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	var b strings.Builder
	collectText(v, &b)
	return b.String()
}

func collectText(v interface{}, b *strings.Builder) {
	switch n := v.(type) {
	case map[string]interface{}:
		if text, ok := n["text"].(string); ok {
			b.WriteString(text)
		}
		// Deterministic order matters for round-trip tests, but JSON
		// objects have no defined key order in Go's map; the fields
		// that actually carry nested content in this schema are
		// "content" and "children", so walk those explicitly instead
		// of ranging over the map.
		if content, ok := n["content"]; ok {
			collectText(content, b)
		}
		if children, ok := n["children"]; ok {
			collectText(children, b)
		}
	case []interface{}:
		for _, item := range n {
			collectText(item, b)
		}
	}
}

// extractImageSrcs walks an opaque rich-text JSON value collecting every
// uploads-path image src it finds.
func extractImageSrcs(raw json.RawMessage, out *[]string) {
	if len(raw) == 0 {
		return
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	collectImageSrcs(v, out)
}

func collectImageSrcs(v interface{}, out *[]string) {
	switch n := v.(type) {
	case map[string]interface{}:
		if t, _ := n["type"].(string); t == "image" {
			if src, ok := n["src"].(string); ok && strings.HasPrefix(src, UploadsPathPrefix) {
				*out = append(*out, src)
			}
		}
		if content, ok := n["content"]; ok {
			collectImageSrcs(content, out)
		}
		if children, ok := n["children"]; ok {
			collectImageSrcs(children, out)
		}
	case []interface{}:
		for _, item := range n {
			collectImageSrcs(item, out)
		}
	}
}

// stackFrame is one entry of the iterative outline-tree walk.
type stackFrame struct {
	node *types.OutlineNode
}

// walkAll visits every node in the tree (sections and containers alike)
// in a stable pre-order, depth-first, using an explicit stack.
func walkAll(doc *types.Doc, visit func(*types.OutlineNode)) {
	if doc == nil {
		return
	}
	stack := make([]stackFrame, 0, len(doc.Root))
	for i := len(doc.Root) - 1; i >= 0; i-- {
		stack = append(stack, stackFrame{doc.Root[i]})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.node == nil {
			continue
		}
		visit(top.node)
		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, stackFrame{top.node.Children[i]})
		}
	}
}

// ExtractOutlineSections derives one OutlineSection row per
// "outlineSection" node in doc. updatedAt stamps every derived row with
// the timestamp of the write that triggered this reindex, since the
// rich-text schema carries no per-section timestamp of its own.
func ExtractOutlineSections(articleID string, doc *types.Doc, updatedAt string) []types.OutlineSection {
	var sections []types.OutlineSection
	walkAll(doc, func(n *types.OutlineNode) {
		if !n.IsSection() {
			return
		}
		title := ExtractPlainText(n.Heading)
		text := ExtractPlainText(n.Body)
		sections = append(sections, types.OutlineSection{
			SectionID: n.SectionID,
			ArticleID: articleID,
			Title:     title,
			Text:      title + text,
			UpdatedAt: updatedAt,
		})
	})
	return sections
}

// ExtractMediaRefs derives the full set of (articleId, url) media
// references currently present in doc, scanning every section's heading
// and body content for uploads-path image sources.
func ExtractMediaRefs(articleID string, doc *types.Doc) []types.MediaRef {
	seen := make(map[string]struct{})
	var refs []types.MediaRef
	walkAll(doc, func(n *types.OutlineNode) {
		var urls []string
		extractImageSrcs(n.Heading, &urls)
		extractImageSrcs(n.Body, &urls)
		for _, u := range urls {
			ref := types.MediaRef{ArticleID: articleID, URL: u}
			if _, dup := seen[ref.Key()]; dup {
				continue
			}
			seen[ref.Key()] = struct{}{}
			refs = append(refs, ref)
		}
	})
	return refs
}

// ExtractTags derives the set of distinct "#tag" tokens present anywhere
// in doc's section titles and bodies, lower-cased for case-insensitive
// counting in the global tag index.
func ExtractTags(doc *types.Doc) []string {
	seen := make(map[string]struct{})
	var tags []string
	walkAll(doc, func(n *types.OutlineNode) {
		if !n.IsSection() {
			return
		}
		text := ExtractPlainText(n.Heading) + " " + ExtractPlainText(n.Body)
		for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
			tag := strings.ToLower(m[1])
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	})
	return tags
}
