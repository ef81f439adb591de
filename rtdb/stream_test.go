package rtdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestApplyStreamEventInitialPut(t *testing.T) {
	root, changed, err := applyStreamEvent(nil, "put", `{"path":"/","data":{"u1":{"lat":1.5}}}`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, `{"u1":{"lat":1.5}}`, mustJSON(t, root))
}

func TestApplyStreamEventNestedPutReplaces(t *testing.T) {
	root, _, err := applyStreamEvent(nil, "put", `{"path":"/","data":{"u1":{"lat":1,"lng":2}}}`)
	require.NoError(t, err)

	root, changed, err := applyStreamEvent(root, "put", `{"path":"/u1","data":{"lat":9}}`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, `{"u1":{"lat":9}}`, mustJSON(t, root), "put replaces the subtree")
}

func TestApplyStreamEventPatchMerges(t *testing.T) {
	root, _, err := applyStreamEvent(nil, "put", `{"path":"/","data":{"u1":{"lat":1,"lng":2}}}`)
	require.NoError(t, err)

	root, changed, err := applyStreamEvent(root, "patch", `{"path":"/u1","data":{"lat":9}}`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, `{"u1":{"lat":9,"lng":2}}`, mustJSON(t, root), "patch keeps siblings")
}

func TestApplyStreamEventNullPutPrunes(t *testing.T) {
	root, _, err := applyStreamEvent(nil, "put", `{"path":"/","data":{"u1":{"lat":1}}}`)
	require.NoError(t, err)

	root, changed, err := applyStreamEvent(root, "put", `{"path":"/u1","data":null}`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.JSONEq(t, `null`, mustJSON(t, root))
}

func TestApplyStreamEventKeepAlive(t *testing.T) {
	root, changed, err := applyStreamEvent(map[string]any{"a": 1.0}, "keep-alive", "null")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.JSONEq(t, `{"a":1}`, mustJSON(t, root))
}

func TestApplyStreamEventCancel(t *testing.T) {
	_, _, err := applyStreamEvent(nil, "cancel", "null")
	assert.ErrorIs(t, err, ErrUnavailable)
}
