package syncengine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/noteweave/outlinesync/internal/types"
)

// locateSection finds the outlineSection node with the given id and
// returns its parent (nil for a top-level node) and index within the
// parent's children (or doc.Root). Search is iterative: docJson trees are
// attacker- or bug-controlled input, not necessarily well-formed, and the
// same cyclic/deep-tree concern that drove indexer.walkAll to an explicit
// stack applies here too.
func locateSection(doc *types.Doc, sectionID string) (parent *types.OutlineNode, index int, found bool) {
	type frame struct {
		parent *types.OutlineNode
		node   *types.OutlineNode
	}
	stack := make([]frame, 0, len(doc.Root))
	for _, n := range doc.Root {
		stack = append(stack, frame{nil, n})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.node.IsSection() && top.node.SectionID == sectionID {
			siblings := childrenOf(doc, top.parent)
			for i, s := range siblings {
				if s == top.node {
					return top.parent, i, true
				}
			}
		}
		for _, c := range top.node.Children {
			stack = append(stack, frame{top.node, c})
		}
	}
	return nil, -1, false
}

func childrenOf(doc *types.Doc, parent *types.OutlineNode) []*types.OutlineNode {
	if parent == nil {
		return doc.Root
	}
	return parent.Children
}

func setChildrenOf(doc *types.Doc, parent *types.OutlineNode, children []*types.OutlineNode) {
	if parent == nil {
		doc.Root = children
		return
	}
	parent.Children = children
}

// applyUpsert overwrites the heading/body of an existing section in
// place. It reports whether the section was found; a miss is not an
// error — the section may have been deleted locally in the same flush
// pass, so callers just skip it.
func applyUpsert(doc *types.Doc, sectionID string, heading, body json.RawMessage) bool {
	parent, idx, found := locateSection(doc, sectionID)
	if !found {
		return false
	}
	node := childrenOf(doc, parent)[idx]
	node.Heading = heading
	node.Body = body
	return true
}

// applyDeletes removes every outlineSection subtree whose root id is in
// sectionIDs, wherever it sits in the tree.
func applyDeletes(doc *types.Doc, sectionIDs []string) {
	if len(sectionIDs) == 0 {
		return
	}
	drop := make(map[string]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		drop[id] = true
	}
	doc.Root = filterDeleted(doc.Root, drop)
}

func filterDeleted(nodes []*types.OutlineNode, drop map[string]bool) []*types.OutlineNode {
	out := make([]*types.OutlineNode, 0, len(nodes))
	for _, n := range nodes {
		if n.IsSection() && drop[n.SectionID] {
			continue
		}
		n.Children = filterDeleted(n.Children, drop)
		out = append(out, n)
	}
	return out
}

// insertAfter inserts newNode immediately after the section afterSectionID
// in whatever list it currently lives in. If afterSectionID can't be
// found (already deleted, or the doc is empty), newNode is appended to
// the document root instead.
func insertAfter(doc *types.Doc, afterSectionID string, newNode *types.OutlineNode) {
	parent, idx, found := locateSection(doc, afterSectionID)
	if !found {
		doc.Root = append(doc.Root, newNode)
		return
	}
	siblings := childrenOf(doc, parent)
	grown := make([]*types.OutlineNode, 0, len(siblings)+1)
	grown = append(grown, siblings[:idx+1]...)
	grown = append(grown, newNode)
	grown = append(grown, siblings[idx+1:]...)
	setChildrenOf(doc, parent, grown)
}

// applyStructureSnapshot rebuilds the tree shape from an acked
// structure_snapshot: every mentioned section is reattached under its
// declared parent at its declared position, preserving the node's own
// heading/body/extra content. Sections that exist locally but weren't
// mentioned in the snapshot are appended to the document root (the
// "never silently drop a section" safety net) unless strict is set, in
// which case that is reported as an error instead.
func applyStructureSnapshot(doc *types.Doc, nodes []types.StructureNode, strict bool) error {
	sections := map[string]*types.OutlineNode{}
	collectSections(doc.Root, sections)

	byParent := map[string][]types.StructureNode{}
	mentioned := map[string]bool{}
	for _, n := range nodes {
		byParent[n.ParentID] = append(byParent[n.ParentID], n)
		mentioned[n.SectionID] = true
	}
	for pid := range byParent {
		list := byParent[pid]
		sort.Slice(list, func(i, j int) bool {
			if list[i].Position != list[j].Position {
				return list[i].Position < list[j].Position
			}
			return list[i].SectionID < list[j].SectionID
		})
		byParent[pid] = list
	}

	// Detach every section from its current place; buildSubtree below
	// reattaches each one exactly once under its declared parent.
	for _, n := range sections {
		n.Children = nil
	}

	var buildSubtree func(parentID string) []*types.OutlineNode
	buildSubtree = func(parentID string) []*types.OutlineNode {
		entries := byParent[parentID]
		out := make([]*types.OutlineNode, 0, len(entries))
		for _, e := range entries {
			node, ok := sections[e.SectionID]
			if !ok {
				continue // snapshot names a section we don't have locally; ignore
			}
			node.Collapsed = e.Collapsed
			node.HasCollapsed = true
			node.Children = buildSubtree(e.SectionID)
			out = append(out, node)
		}
		return out
	}
	doc.Root = buildSubtree("")

	var orphans []string
	for id := range sections {
		if !mentioned[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	sort.Strings(orphans)
	if strict {
		return fmt.Errorf("structure snapshot omitted %d known section(s): %v", len(orphans), orphans)
	}
	for _, id := range orphans {
		doc.Root = append(doc.Root, sections[id])
	}
	return nil
}

func collectSections(nodes []*types.OutlineNode, into map[string]*types.OutlineNode) {
	for _, n := range nodes {
		if n.IsSection() {
			into[n.SectionID] = n
		}
		collectSections(n.Children, into)
	}
}

// buildStructureNodes derives a full structure_snapshot payload from the
// current tree shape: every section, its parent id ("" for top-level),
// and its position among siblings.
func buildStructureNodes(doc *types.Doc) []types.StructureNode {
	var nodes []types.StructureNode
	var walk func(parentID string, siblings []*types.OutlineNode)
	walk = func(parentID string, siblings []*types.OutlineNode) {
		pos := 0
		for _, n := range siblings {
			if n.IsSection() {
				nodes = append(nodes, types.StructureNode{
					SectionID: n.SectionID,
					ParentID:  parentID,
					Position:  pos,
					Collapsed: n.Collapsed,
				})
				pos++
				walk(n.SectionID, n.Children)
				continue
			}
			walk(parentID, n.Children)
		}
	}
	walk("", doc.Root)
	return nodes
}
