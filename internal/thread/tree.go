// Package thread assembles flat comment rows into reply trees.
package thread

import (
	"sort"

	"reportdesk/internal/store"
)

type Node struct {
	Comment store.Comment
	Replies []*Node
}

// Build returns the top-level comments with their replies attached
// recursively. Siblings at every level are ordered newest first. A
// comment whose parent is not in the input is treated as top-level.
func Build(comments []store.Comment) []*Node {
	nodes := make(map[int64]*Node, len(comments))
	for _, c := range comments {
		nodes[c.ID] = &Node{Comment: c, Replies: []*Node{}}
	}

	children := make(map[int64][]*Node, len(comments))
	roots := make([]*Node, 0)
	for _, c := range comments {
		node := nodes[c.ID]
		if c.ParentID != nil && *c.ParentID != c.ID {
			if _, ok := nodes[*c.ParentID]; ok {
				children[*c.ParentID] = append(children[*c.ParentID], node)
				continue
			}
		}
		roots = append(roots, node)
	}

	for parentID, kids := range children {
		sortNewestFirst(kids)
		nodes[parentID].Replies = kids
	}
	sortNewestFirst(roots)
	return roots
}

// Count returns the number of nodes in the forest.
func Count(nodes []*Node) int {
	total := 0
	for _, n := range nodes {
		total += 1 + Count(n.Replies)
	}
	return total
}

func sortNewestFirst(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Comment, nodes[j].Comment
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
