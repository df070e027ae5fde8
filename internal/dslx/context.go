package dslx

import "strings"

// Context provides the evaluation environment for Eval: named variables
// (args, response, etc.) plus an arbitrary data tree reachable by dotted
// path. Contexts nest: a child created by CreateChildContext resolves
// variables from itself first, then its parent, matching the source DSL's
// scoping for pipe right-hand-sides and function bodies.
type Context struct {
	data      map[string]any
	variables map[string]Value
	parent    *Context
}

// NewContext builds a root context over the given data tree (typically the
// tool call's input arguments, plus any response/env data merged in).
func NewContext(data map[string]any) *Context {
	return &Context{
		data:      data,
		variables: make(map[string]Value),
	}
}

// CreateChildContext returns a new context that shares this context's data
// tree but has its own variable scope, falling back to the parent's
// variables when a name isn't found locally.
func (c *Context) CreateChildContext() *Context {
	return &Context{
		data:      c.data,
		variables: make(map[string]Value),
		parent:    c,
	}
}

// WithVariable returns a child context with name bound to v, leaving c
// unmodified.
func (c *Context) WithVariable(name string, v Value) *Context {
	child := c.CreateChildContext()
	child.variables[name] = v
	return child
}

// SetVariable binds name to v in this context's own scope.
func (c *Context) SetVariable(name string, v Value) {
	c.variables[name] = v
}

// HasVariable reports whether name is bound in this context or an ancestor.
func (c *Context) HasVariable(name string) bool {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if _, ok := ctx.variables[name]; ok {
			return true
		}
	}
	return false
}

// GetVariable resolves name against this context, then its ancestors, then
// falls back to a top-level field of the same name in the data tree.
func (c *Context) GetVariable(name string) Value {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.variables[name]; ok {
			return v
		}
	}
	if c.data != nil {
		if v, ok := c.data[name]; ok {
			return FromAny(v)
		}
	}
	return Null()
}

// GetDataField resolves a dot-separated path ("args.user.id") against the
// context's data tree, returning Null on any missing segment.
func (c *Context) GetDataField(path string) Value {
	if c.data == nil {
		return Null()
	}
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return Null()
	}
	root, ok := c.data[parts[0]]
	if !ok {
		return Null()
	}
	cur := FromAny(root)
	for _, p := range parts[1:] {
		cur = cur.Member(String(p))
	}
	return cur
}
