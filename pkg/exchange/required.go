package exchange

import (
	"fmt"

	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

const (
	requiredActionThrow   = "THROW"
	requiredActionCascade = "CASCADE"
)

// Required enforces the @required directive: a THROW
// field aborts the whole result with an error when null; a CASCADE field
// nulls its enclosing object instead, and that null keeps propagating
// upward through ancestors that are themselves @required or non-nullable
// until it reaches a nullable position, which absorbs it. The query root
// itself behaves as non-nullable, so a cascade that climbs all the way
// up nulls the entire result, not just its immediate parent.
func Required() Builder {
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				return forward(ops)(stream.Sink[model.OperationResult]{
					Next: func(res model.OperationResult) {
						if obj, ok := res.DataMap(); ok && res.Operation.Artifact != nil {
							data, cascade, err := applyRequired(obj, res.Operation.Artifact.Selections, res.Operation.Artifact.Name)
							if err != nil {
								res.Data = nil
								res.Errors = append(res.Errors, xerrors.NewExchangeError("required", err.Error(), nil, nil))
							} else if cascade {
								res.Data = nil
							} else {
								res.Data = data
							}
						}
						sink.Next(res)
					},
					Error:    sink.Error,
					Complete: sink.Complete,
				})
			}
		}
		return Instance{Name: "required", IO: io}
	}
}

// applyRequired walks selections against data. cascade=true tells the
// caller that this entire object must become null and, if the field
// wrapping it is itself @required or non-nullable, that the caller
// should cascade too.
func applyRequired(data map[string]interface{}, selections []model.Selection, path string) (map[string]interface{}, bool, error) {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}

	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			respKey := f.ResponseKey()
			fieldPath := path + "." + respKey
			raw, present := data[respKey]
			directive, hasRequired := f.Directive("required")
			action := requiredActionThrow
			if hasRequired {
				if a, ok := directive.Args["action"].(string); ok && a != "" {
					action = a
				}
			}

			if !present || raw == nil {
				if hasRequired {
					if action == requiredActionCascade {
						return nil, true, nil
					}
					return nil, false, fmt.Errorf("Required field '%s' is null", fieldPath)
				}
				out[respKey] = nil
				continue
			}

			if len(f.Selections) == 0 {
				out[respKey] = raw
				continue
			}

			switch v := raw.(type) {
			case map[string]interface{}:
				nested, nestedCascade, err := applyRequired(v, f.Selections, fieldPath)
				if err != nil {
					return nil, false, err
				}
				if !nestedCascade {
					out[respKey] = nested
					continue
				}
				if hasRequired && action == requiredActionCascade {
					return nil, true, nil
				}
				if hasRequired {
					return nil, false, fmt.Errorf("Required field '%s' is null", fieldPath)
				}
				if !f.Nullable {
					return nil, true, nil
				}
				out[respKey] = nil

			case []interface{}:
				projected := make([]interface{}, len(v))
				for i, e := range v {
					eObj, ok := e.(map[string]interface{})
					if !ok {
						projected[i] = e
						continue
					}
					nested, nestedCascade, err := applyRequired(eObj, f.Selections, fmt.Sprintf("%s[%d]", fieldPath, i))
					if err != nil {
						return nil, false, err
					}
					if nestedCascade {
						projected[i] = nil
					} else {
						projected[i] = nested
					}
				}
				out[respKey] = projected

			default:
				out[respKey] = raw
			}

		case model.SelectionFragmentSpreadKind:
			nested, cascade, err := applyRequired(data, sel.FragmentSpread.Selections, path)
			if err != nil {
				return nil, false, err
			}
			if cascade {
				return nil, true, nil
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
			nested, cascade, err := applyRequired(data, inline.Selections, path)
			if err != nil {
				return nil, false, err
			}
			if cascade {
				return nil, true, nil
			}
			for k, v := range nested {
				out[k] = v
			}
		}
	}

	return out, false, nil
}
