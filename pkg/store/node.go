package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNotFound is returned when a path does not resolve to a node.
	ErrNotFound = errors.New("path not found")
	// ErrWrongType is returned when a node exists but does not hold the
	// requested type.
	ErrWrongType = errors.New("wrong value type")
)

// Node is one vertex of the hierarchical store. An inner node has named
// children; a leaf carries a scalar (bool, number, string) or an
// array/object blob. Every node is addressable by a slash-delimited path.
type Node struct {
	children map[string]*Node
	value    interface{}
}

// NewNode creates an empty object node.
func NewNode() *Node {
	return &Node{children: make(map[string]*Node)}
}

// NewNodeFromValue builds a node from a JSON-like value. Maps become inner
// nodes, everything else a leaf.
func NewNodeFromValue(v interface{}) *Node {
	if m, ok := v.(map[string]interface{}); ok {
		n := NewNode()
		for k, cv := range m {
			n.children[k] = NewNodeFromValue(cv)
		}
		return n
	}
	return &Node{value: v}
}

// NewNodeFromJSON builds a node tree from serialized JSON.
func NewNodeFromJSON(data []byte) (*Node, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return NewNodeFromValue(v), nil
}

// IsObject reports whether the node has named children.
func (n *Node) IsObject() bool {
	return n.children != nil
}

// Value returns the leaf value. Inner nodes return nil.
func (n *Node) Value() interface{} {
	return n.value
}

// Children returns the mapping from name to child for an object node.
// Leaves return an empty map.
func (n *Node) Children() map[string]*Node {
	if n.children == nil {
		return map[string]*Node{}
	}
	return n.children
}

// splitPath breaks a slash-delimited path into its components. Empty
// components are dropped, so "/a//b/" equals "a/b".
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get resolves a path to a node.
func (n *Node) Get(path string) (*Node, bool) {
	cur := n
	for _, part := range splitPath(path) {
		if cur.children == nil {
			return nil, false
		}
		next, ok := cur.children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Exists returns the number of leading path components that resolve.
// 0 means no match, len(components) a complete match.
func (n *Node) Exists(path string) int {
	cur := n
	matched := 0
	for _, part := range splitPath(path) {
		if cur.children == nil {
			break
		}
		next, ok := cur.children[part]
		if !ok {
			break
		}
		cur = next
		matched++
	}
	return matched
}

// GetString reads a string leaf at path.
func (n *Node) GetString(path string) (string, error) {
	node, ok := n.Get(path)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s, ok := node.value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrWrongType, path)
	}
	return s, nil
}

// GetBool reads a boolean leaf at path.
func (n *Node) GetBool(path string) (bool, error) {
	node, ok := n.Get(path)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	b, ok := node.value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is not a bool", ErrWrongType, path)
	}
	return b, nil
}

// GetUInt reads an unsigned integer leaf at path. Any numeric
// representation is accepted; JSON decoding yields float64.
func (n *Node) GetUInt(path string) (uint64, error) {
	node, ok := n.Get(path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	switch v := node.value.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s is negative", ErrWrongType, path)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s is negative", ErrWrongType, path)
		}
		return uint64(v), nil
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("%w: %s is negative", ErrWrongType, path)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s is not a number", ErrWrongType, path)
	}
}

// GetArray reads an array leaf at path. Elements are returned in index
// order.
func (n *Node) GetArray(path string) ([]interface{}, error) {
	node, ok := n.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	a, ok := node.value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrWrongType, path)
	}
	return a, nil
}

// GetStringArray reads an array leaf whose elements are strings.
func (n *Node) GetStringArray(path string) ([]string, error) {
	a, err := n.GetArray(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s holds a non-string element", ErrWrongType, path)
		}
		out = append(out, s)
	}
	return out, nil
}

// Export converts the subtree into a JSON-like value: maps for object
// nodes, the leaf value otherwise.
func (n *Node) Export() interface{} {
	if n.children == nil {
		return n.value
	}
	m := make(map[string]interface{}, len(n.children))
	for k, c := range n.children {
		m[k] = c.Export()
	}
	return m
}

// MarshalJSON serializes the subtree.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Export())
}

// Clone returns a deep copy of the subtree.
func (n *Node) Clone() *Node {
	if n.children == nil {
		return &Node{value: cloneValue(n.value)}
	}
	c := NewNode()
	for k, child := range n.children {
		c.children[k] = child.Clone()
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return t
	}
}

// ensure walks to path, creating missing ancestors as empty objects. A leaf
// encountered on the way is converted into an object, dropping its value.
func (n *Node) ensure(parts []string) *Node {
	cur := n
	for _, part := range parts {
		if cur.children == nil {
			cur.children = make(map[string]*Node)
			cur.value = nil
		}
		next, ok := cur.children[part]
		if !ok {
			next = NewNode()
			cur.children[part] = next
		}
		cur = next
	}
	return cur
}

// Set replaces the subtree at path with the given value, creating missing
// ancestors.
func (n *Node) Set(path string, value interface{}) {
	parts := splitPath(path)
	if len(parts) == 0 {
		repl := NewNodeFromValue(value)
		n.children = repl.children
		n.value = repl.value
		return
	}
	parent := n.ensure(parts[:len(parts)-1])
	if parent.children == nil {
		parent.children = make(map[string]*Node)
		parent.value = nil
	}
	parent.children[parts[len(parts)-1]] = NewNodeFromValue(value)
}

// Delete removes the subtree at path. Deleting an absent path is a no-op.
func (n *Node) Delete(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		n.children = make(map[string]*Node)
		n.value = nil
		return
	}
	cur := n
	for _, part := range parts[:len(parts)-1] {
		if cur.children == nil {
			return
		}
		next, ok := cur.children[part]
		if !ok {
			return
		}
		cur = next
	}
	if cur.children != nil {
		delete(cur.children, parts[len(parts)-1])
	}
}

// array reads the array at path, treating absent or non-array values as
// empty.
func (n *Node) array(path string) []interface{} {
	node, ok := n.Get(path)
	if !ok {
		return nil
	}
	a, _ := node.value.([]interface{})
	return a
}

// Push appends a value to the array at path, creating it if absent.
func (n *Node) Push(path string, value interface{}) {
	n.setArray(path, append(n.array(path), value))
}

// Pop removes the last element of the array at path.
func (n *Node) Pop(path string) {
	a := n.array(path)
	if len(a) == 0 {
		return
	}
	n.setArray(path, a[:len(a)-1])
}

// Shift removes the first element of the array at path.
func (n *Node) Shift(path string) {
	a := n.array(path)
	if len(a) == 0 {
		return
	}
	n.setArray(path, a[1:])
}

// Unshift prepends a value to the array at path, creating it if absent.
func (n *Node) Unshift(path string, value interface{}) {
	n.setArray(path, append([]interface{}{value}, n.array(path)...))
}

func (n *Node) setArray(path string, a []interface{}) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	parent := n.ensure(parts[:len(parts)-1])
	if parent.children == nil {
		parent.children = make(map[string]*Node)
		parent.value = nil
	}
	parent.children[parts[len(parts)-1]] = &Node{value: a}
}

// Merge recursively merges an object value into the subtree at path.
// Scalar entries overwrite, object entries recurse.
func (n *Node) Merge(path string, value map[string]interface{}) {
	target := n.ensure(splitPath(path))
	mergeInto(target, value)
}

func mergeInto(n *Node, value map[string]interface{}) {
	if n.children == nil {
		n.children = make(map[string]*Node)
		n.value = nil
	}
	for k, v := range value {
		if m, ok := v.(map[string]interface{}); ok {
			child, exists := n.children[k]
			if !exists || child.children == nil {
				child = NewNode()
				n.children[k] = child
			}
			mergeInto(child, m)
			continue
		}
		n.children[k] = NewNodeFromValue(v)
	}
}

// Handle applies a single write operation at path.
func (n *Node) Handle(path string, op Operation) error {
	switch op.Kind {
	case OpSet:
		n.Set(path, op.Value)
	case OpDelete:
		n.Delete(path)
	case OpPush:
		n.Push(path, op.Value)
	case OpPop:
		n.Pop(path)
	case OpShift:
		n.Shift(path)
	case OpUnshift:
		n.Unshift(path, op.Value)
	case OpMerge:
		m, ok := op.Value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: merge value at %s is not an object", ErrWrongType, path)
		}
		n.Merge(path, m)
	default:
		return fmt.Errorf("unknown operation kind %d at %s", op.Kind, path)
	}
	return nil
}

// valueEqual compares two JSON-like values, normalizing numeric types.
func valueEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return t
	}
}
