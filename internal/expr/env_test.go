package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndEvalBool(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`path.startsWith("/api/") && "preview" in query && query["preview"] == "true"`)
	require.NoError(t, err)

	matched, err := program.EvalBool(map[string]any{
		"method":        "GET",
		"path":          "/api/blogs",
		"query":         map[string]string{"preview": "true"},
		"role":          "",
		"authenticated": false,
	})
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = program.EvalBool(map[string]any{
		"method":        "GET",
		"path":          "/api/blogs",
		"query":         map[string]string{},
		"role":          "",
		"authenticated": false,
	})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`path`)
	require.Error(t, err)
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`query[`)
	require.Error(t, err)
}

func TestEvalUninitializedProgram(t *testing.T) {
	var program Program
	_, err := program.EvalBool(nil)
	require.Error(t, err)
}
