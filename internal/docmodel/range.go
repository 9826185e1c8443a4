package docmodel

import (
	"errors"
	"fmt"
)

// ErrRangeCrossesRevision is returned when a text range overlaps an
// embedded revision node. Pending revisions must be resolved before the
// span they cover can be edited again.
var ErrRangeCrossesRevision = errors.New("range overlaps a pending revision")

// BlockAt returns the i-th block of the document root.
func BlockAt(root *Node, i int) (*Node, error) {
	if root == nil || i < 0 || i >= len(root.Content) {
		return nil, fmt.Errorf("block %d out of range", i)
	}
	return root.Content[i], nil
}

// inlineLength is the visible rune length of an inline child.
func inlineLength(n *Node) int {
	if n.Type == TypeText {
		return len([]rune(n.Text))
	}
	return len([]rune(n.PlainText()))
}

// InsertInline inserts node at the given rune offset in block, splitting a
// text node when the offset falls inside one. Offsets past the end of the
// block append.
func InsertInline(block *Node, offset int, node *Node) {
	if offset < 0 {
		offset = 0
	}
	pos := 0
	for i, child := range block.Content {
		if offset == pos {
			block.Content = insertAt(block.Content, i, node)
			return
		}
		length := inlineLength(child)
		if offset < pos+length {
			if child.Type != TypeText {
				// Cannot split a non-text inline node; insert before it.
				block.Content = insertAt(block.Content, i, node)
				return
			}
			runes := []rune(child.Text)
			cut := offset - pos
			left := &Node{Type: TypeText, Text: string(runes[:cut]), Marks: child.Marks}
			right := &Node{Type: TypeText, Text: string(runes[cut:]), Marks: child.Marks}
			rest := append([]*Node{}, block.Content[i+1:]...)
			block.Content = append(block.Content[:i], left, node, right)
			block.Content = append(block.Content, rest...)
			return
		}
		if offset == pos+length {
			block.Content = insertAt(block.Content, i+1, node)
			return
		}
		pos += length
	}
	block.Content = append(block.Content, node)
}

// CutRange removes the text in [from, to) from block's inline content and
// returns the removed text. The range may span multiple text nodes but
// must not overlap a revision node.
func CutRange(block *Node, from, to int) (string, error) {
	if from > to {
		from, to = to, from
	}
	var removed []rune
	var kept []*Node
	pos := 0
	for _, child := range block.Content {
		length := inlineLength(child)
		start, end := pos, pos+length
		pos = end
		if end <= from || start >= to {
			kept = append(kept, child)
			continue
		}
		if child.Type != TypeText {
			return "", ErrRangeCrossesRevision
		}
		runes := []rune(child.Text)
		lo := max(from-start, 0)
		hi := min(to-start, length)
		removed = append(removed, runes[lo:hi]...)
		remainder := string(runes[:lo]) + string(runes[hi:])
		if remainder != "" {
			kept = append(kept, &Node{Type: TypeText, Text: remainder, Marks: child.Marks})
		}
	}
	block.Content = kept
	return string(removed), nil
}

// ReplaceChild swaps the child at index in parent for the given nodes,
// dropping it when no replacements are supplied. Empty text nodes are
// filtered out.
func ReplaceChild(parent *Node, index int, replacements ...*Node) {
	filtered := replacements[:0]
	for _, r := range replacements {
		if r.Type == TypeText && r.Text == "" {
			continue
		}
		filtered = append(filtered, r)
	}
	rest := append([]*Node{}, parent.Content[index+1:]...)
	parent.Content = append(parent.Content[:index], filtered...)
	parent.Content = append(parent.Content, rest...)
}

func insertAt(content []*Node, i int, node *Node) []*Node {
	rest := append([]*Node{}, content[i:]...)
	content = append(content[:i], node)
	return append(content, rest...)
}
