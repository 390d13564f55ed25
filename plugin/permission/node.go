package permission

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrEmptyNode is returned when parsing an empty permission node.
	ErrEmptyNode = errors.New("permission node is empty")
	// ErrInvalidNode is returned when a permission node contains whitespace or
	// empty segments.
	ErrInvalidNode = errors.New("invalid permission node")
)

// Wildcard grants every permission node.
const Wildcard Node = "*"

// Node is a normalised, dot separated permission node such as
// "newplayerperks.perk.fly". Nodes are case-insensitive and always stored in
// lower case.
type Node string

// ParseNode validates s and returns it as a Node.
func ParseNode(s string) (Node, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyNode
	}
	if strings.IndexFunc(trimmed, unicode.IsSpace) != -1 {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidNode, s)
	}
	for _, segment := range strings.Split(trimmed, ".") {
		if segment == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidNode, s)
		}
	}
	return Node(strings.ToLower(trimmed)), nil
}

// String ...
func (n Node) String() string {
	return string(n)
}

// For returns the node required for a specific action, which is the node
// itself followed by the action segment. An empty action returns n unchanged.
func (n Node) For(action string) Node {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return n
	}
	return Node(string(n) + "." + action)
}

// GrantedBy reports if holding the granted node implies n. Granted nodes may
// end in ".*" to grant every node below a prefix, or be "*" to grant all.
func (n Node) GrantedBy(granted Node) bool {
	if granted == Wildcard || granted == n {
		return true
	}
	prefix, ok := strings.CutSuffix(string(granted), "*")
	if !ok || !strings.HasSuffix(prefix, ".") {
		return false
	}
	return strings.HasPrefix(string(n), prefix)
}

// Candidates returns every granted node that would imply n: n itself, each
// parent wildcard from the most to the least specific, and "*".
func (n Node) Candidates() []Node {
	segments := strings.Split(string(n), ".")
	out := make([]Node, 0, len(segments)+1)
	out = append(out, n)
	for i := len(segments) - 1; i > 0; i-- {
		out = append(out, Node(strings.Join(segments[:i], ".")+".*"))
	}
	return append(out, Wildcard)
}
