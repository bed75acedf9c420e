package exchange

import (
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// Scalar serializes declared custom-scalar variables before forwarding a
// request, and parses custom-scalar leaf fields back out of a result's
// data after it returns, using the schema's scalars/inputs tables.
func Scalar() Builder {
	return func(forward IO, client ClientHandle) Instance {
		schema := client.Schema()

		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				downstreamOps := stream.MakeSubject[model.Operation]()

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next: func(res model.OperationResult) {
						if data, ok := res.DataMap(); ok && res.Operation.Artifact != nil {
							parsed, err := parseResultData(data, res.Operation.Artifact.Selections, schema)
							if err != nil {
								res.Errors = append(res.Errors, xerrors.NewExchangeError("scalar", "failed to parse scalar field", err, nil))
							} else {
								res.Data = parsed
							}
						}
						sink.Next(res)
					},
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantRequest && op.Artifact != nil && len(op.Artifact.VariableDefs) > 0 {
							serialized, err := serializeVariables(op.Variables, op.Artifact.VariableDefs, schema)
							if err != nil {
								sink.Next(model.OperationResult{
									Operation: op,
									Errors:    []error{xerrors.NewExchangeError("scalar", "failed to serialize variable", err, nil)},
								})
								return
							}
							op.Variables = serialized
						}
						downstreamOps.Next(op)
					},
					Error:    func(error) { downstreamOps.Complete() },
					Complete: downstreamOps.Complete,
				})

				return stream.Subscription{Unsubscribe: func() {
					if upstreamSub.Unsubscribe != nil {
						upstreamSub.Unsubscribe()
					}
					if forwardSub.Unsubscribe != nil {
						forwardSub.Unsubscribe()
					}
				}}
			}
		}
		return Instance{Name: "scalar", IO: io}
	}
}

func serializeVariables(variables map[string]interface{}, defs []model.VariableDef, schema model.Schema) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		out[k] = v
	}
	for _, def := range defs {
		v, present := variables[def.Name]
		if !present || v == nil {
			continue
		}
		serialized, err := serializeValue(v, def.Type, def.Array, schema)
		if err != nil {
			return nil, err
		}
		out[def.Name] = serialized
	}
	return out, nil
}

func serializeValue(v interface{}, typ string, array bool, schema model.Schema) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if array {
		arr, ok := v.([]interface{})
		if !ok {
			return v, nil
		}
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			sv, err := serializeValue(e, typ, false, schema)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	}
	if codec, ok := schema.Scalar(typ); ok && codec.Serialize != nil {
		return codec.Serialize(v)
	}
	if input, ok := schema.Input(typ); ok {
		m, ok := v.(map[string]interface{})
		if !ok {
			return v, nil
		}
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = val
		}
		for _, f := range input.Fields {
			fv, present := m[f.Name]
			if !present || fv == nil {
				continue
			}
			sv, err := serializeValue(fv, f.Type, f.Array, schema)
			if err != nil {
				return nil, err
			}
			out[f.Name] = sv
		}
		return out, nil
	}
	return v, nil
}

// parseResultData walks data per selections, applying a registered
// scalar codec's Parse to every leaf field whose declared type names one.
func parseResultData(data map[string]interface{}, selections []model.Selection, schema model.Schema) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			respKey := f.ResponseKey()
			raw, present := data[respKey]
			if !present || raw == nil {
				continue
			}
			parsed, err := parseFieldValue(raw, f, schema)
			if err != nil {
				return nil, err
			}
			out[respKey] = parsed
		case model.SelectionFragmentSpreadKind:
			nested, err := parseResultData(data, sel.FragmentSpread.Selections, schema)
			if err != nil {
				return nil, err
			}
			for k, v := range nested {
				out[k] = v
			}
		case model.SelectionInlineFragmentKind:
			inline := sel.InlineFragment
			if inline.TypeCondition != "" {
				typename, _ := data["__typename"].(string)
				if typename != inline.TypeCondition {
					continue
				}
			}
			nested, err := parseResultData(data, inline.Selections, schema)
			if err != nil {
				return nil, err
			}
			for k, v := range nested {
				out[k] = v
			}
		}
	}
	return out, nil
}

func parseFieldValue(raw interface{}, f *model.Field, schema model.Schema) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if arr, ok := raw.([]interface{}); ok {
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			pv, err := parseFieldValue(e, f, schema)
			if err != nil {
				return nil, err
			}
			out[i] = pv
		}
		return out, nil
	}
	if len(f.Selections) > 0 {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return raw, nil
		}
		return parseResultData(obj, f.Selections, schema)
	}
	if codec, ok := schema.Scalar(f.Type); ok && codec.Parse != nil {
		return codec.Parse(raw)
	}
	return raw, nil
}
