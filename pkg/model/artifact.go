// Package model holds the data model shared by the cache, exchange, and
// client packages: compiled operation artifacts, the operation/result
// envelope that travels the exchange pipeline, and the schema descriptor a
// client is constructed with.
//
// It exists as its own package, separate from the root client package,
// purely to break the import cycle that would otherwise result from the
// cache and exchange packages needing these types while the client package
// needs the cache and exchange packages; the root package re-exports the
// public names as type aliases so callers never see the split.
package model

// Kind identifies what sort of operation an Artifact compiles.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
	KindFragment     Kind = "fragment"
)

// VarRef marks a position inside a Field's Args where a variable's runtime
// value should be substituted before the args are used to derive a
// FieldKey or sent to a transport.
type VarRef struct {
	Name string
}

// Directive is a GraphQL directive attached to a selection, e.g.
// `@required(action: CASCADE)`.
type Directive struct {
	Name string
	Args map[string]interface{}
}

// SelectionKind discriminates the three shapes a Selection can take.
type SelectionKind int

const (
	SelectionFieldKind SelectionKind = iota
	SelectionFragmentSpreadKind
	SelectionInlineFragmentKind
)

// Selection is one node of an Artifact's selection tree: a Field, a
// FragmentSpread, or an InlineFragment. Exactly one of the three pointer
// fields is non-nil, matching Kind.
type Selection struct {
	Kind           SelectionKind
	Field          *Field
	FragmentSpread *FragmentSpread
	InlineFragment *InlineFragment
}

// Field is a single selected field: its schema name, optional response
// alias, declared type, cardinality/nullability, nested selections (for
// object-typed fields), arguments, and directives.
type Field struct {
	Name       string
	Alias      string
	Type       string
	Array      bool
	Nullable   bool
	Selections []Selection
	Args       map[string]interface{}
	Directives []Directive
}

// ResponseKey is the key this field occupies in a result object: its
// alias if one was declared, otherwise its schema name.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Directive looks up a directive by name, returning ok=false if the field
// does not carry one with that name.
func (f *Field) Directive(name string) (Directive, bool) {
	for _, d := range f.Directives {
		if d.Name == name {
			return d, true
		}
	}
	return Directive{}, false
}

// FragmentSpread references a named fragment; selections are the
// fragment's own selection tree, inlined at compile time; the core never
// resolves fragment spreads by name lookup at runtime, since Artifacts
// arrive pre-compiled.
type FragmentSpread struct {
	Name       string
	Selections []Selection
}

// InlineFragment is a `... on Typename { }` selection. TypeCondition is
// empty when the inline fragment carries no type filter.
type InlineFragment struct {
	TypeCondition string
	Selections    []Selection
}

// VariableDef describes one declared operation variable.
type VariableDef struct {
	Name     string
	Type     string
	Array    bool
	Nullable bool
}

// Artifact is a compiled operation or fragment descriptor: immutable and
// content-addressed by Name.
type Artifact struct {
	Kind         Kind
	Name         string
	Body         string
	Selections   []Selection
	VariableDefs []VariableDef
}
