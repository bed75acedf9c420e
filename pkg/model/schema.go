package model

// EntityDescriptor declares how a Typename's key is derived: the ordered
// field names whose values are concatenated into a StorageKey.
type EntityDescriptor struct {
	KeyFields []string
}

// InputField describes one field of a declared input-object type, used by
// the scalar exchange to recurse into nested input variables.
type InputField struct {
	Name     string
	Type     string
	Array    bool
	Nullable bool
}

// InputDescriptor declares the shape of one input-object type.
type InputDescriptor struct {
	Fields []InputField
}

// ScalarCodec serializes a variable value for the wire and parses a
// result leaf back into its application value. T is erased to
// interface{} here; the registry is a plain string-keyed lookup with no
// type-level knowledge of individual scalars.
type ScalarCodec struct {
	Parse     func(interface{}) (interface{}, error)
	Serialize func(interface{}) (interface{}, error)
}

// Schema is the descriptor a client is constructed with: which
// typenames are entities and how their keys are built, the shape of
// declared input-object types, and the scalar codec registry.
type Schema struct {
	Entities map[string]EntityDescriptor
	Inputs   map[string]InputDescriptor
	Scalars  map[string]ScalarCodec
}

// Entity looks up an entity descriptor by typename.
func (s Schema) Entity(typename string) (EntityDescriptor, bool) {
	if s.Entities == nil {
		return EntityDescriptor{}, false
	}
	d, ok := s.Entities[typename]
	return d, ok
}

// Scalar looks up a scalar codec by declared type name.
func (s Schema) Scalar(typename string) (ScalarCodec, bool) {
	if s.Scalars == nil {
		return ScalarCodec{}, false
	}
	c, ok := s.Scalars[typename]
	return c, ok
}

// Input looks up an input-object descriptor by typename.
func (s Schema) Input(typename string) (InputDescriptor, bool) {
	if s.Inputs == nil {
		return InputDescriptor{}, false
	}
	d, ok := s.Inputs[typename]
	return d, ok
}
