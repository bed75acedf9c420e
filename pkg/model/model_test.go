package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/gqlwire/pkg/model"
)

func TestResolveArgsSubstitutesVariables(t *testing.T) {
	args := map[string]interface{}{
		"id":    model.VarRef{Name: "id"},
		"limit": 10,
	}
	resolved := model.ResolveArgs(args, map[string]interface{}{"id": "42"})
	require.Equal(t, map[string]interface{}{"id": "42", "limit": 10}, resolved)
}

func TestResolveArgsDropsMissingVariables(t *testing.T) {
	args := map[string]interface{}{"id": model.VarRef{Name: "absent"}, "kept": 1}
	resolved := model.ResolveArgs(args, nil)
	require.Equal(t, map[string]interface{}{"kept": 1}, resolved)
}

func TestResolveArgsRecursesThroughInputObjects(t *testing.T) {
	args := map[string]interface{}{
		"filter": map[string]interface{}{
			"owner": model.VarRef{Name: "owner"},
			"tags":  []interface{}{model.VarRef{Name: "tag"}},
		},
	}
	resolved := model.ResolveArgs(args, map[string]interface{}{"owner": "alice", "tag": "infra"})
	filter := resolved["filter"].(map[string]interface{})
	require.Equal(t, "alice", filter["owner"])
	require.Equal(t, []interface{}{"infra"}, filter["tags"].([]interface{}))
}

func TestOperationMetaBool(t *testing.T) {
	op := model.NewRequest(1, nil, nil, map[string]interface{}{
		"dedup": map[string]interface{}{"skip": true},
	})
	require.True(t, op.MetaBool("dedup", "skip"))
	require.False(t, op.MetaBool("dedup", "other"))
	require.False(t, op.MetaBool("retry", "skip"))
}

func TestOperationWithMetadataMerges(t *testing.T) {
	op := model.NewRequest(1, nil, nil, map[string]interface{}{"a": 1})
	merged := op.WithMetadata(map[string]interface{}{"b": 2})
	require.Equal(t, 1, merged.Metadata["a"])
	require.Equal(t, 2, merged.Metadata["b"])
	require.NotContains(t, op.Metadata, "b", "the original operation is untouched")
}

func TestResultStaleRoundTrip(t *testing.T) {
	res := model.OperationResult{}
	require.False(t, res.Stale())
	stale := res.WithStale(true)
	require.True(t, stale.Stale())
	require.False(t, res.Stale())
}

func TestFieldResponseKeyPrefersAlias(t *testing.T) {
	f := &model.Field{Name: "user", Alias: "me"}
	require.Equal(t, "me", f.ResponseKey())
	require.Equal(t, "user", (&model.Field{Name: "user"}).ResponseKey())
}

func TestDataMapRejectsNonObjects(t *testing.T) {
	res := model.OperationResult{Data: []interface{}{1, 2}}
	_, ok := res.DataMap()
	require.False(t, ok)

	res = model.OperationResult{Data: map[string]interface{}{"a": 1}}
	m, ok := res.DataMap()
	require.True(t, ok)
	require.Equal(t, 1, m["a"])
}
