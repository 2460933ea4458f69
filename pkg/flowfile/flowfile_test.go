package flowfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flow-tools/axf-deploy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlowFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVerify(t *testing.T) {
	t.Run("valid_file", func(t *testing.T) {
		path := writeFlowFile(t, `{"name": "test"}`)
		assert.NoError(t, Verify(path))
	})

	t.Run("empty_path", func(t *testing.T) {
		err := Verify("")
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("not_found", func(t *testing.T) {
		err := Verify("/nonexistent/flow.json")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("directory", func(t *testing.T) {
		err := Verify(t.TempDir())
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("empty_file", func(t *testing.T) {
		path := writeFlowFile(t, "")
		err := Verify(path)
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("opaque_content_is_fine", func(t *testing.T) {
		// Verify gates only on existence, not on content
		path := writeFlowFile(t, "not json at all")
		assert.NoError(t, Verify(path))
	})
}

func TestInspect(t *testing.T) {
	t.Run("full_document", func(t *testing.T) {
		path := writeFlowFile(t, `{
			"name": "Support Bot",
			"description": "Answers support questions",
			"endpoint_name": "support-bot",
			"data": {
				"nodes": [{"id": "a"}, {"id": "b"}, {"id": "c"}],
				"edges": [{"id": "e1"}, {"id": "e2"}]
			}
		}`)

		info, err := Inspect(path)
		require.NoError(t, err)
		assert.Equal(t, "Support Bot", info.Name)
		assert.Equal(t, "Answers support questions", info.Description)
		assert.Equal(t, "support-bot", info.EndpointName)
		assert.Equal(t, 3, info.Nodes)
		assert.Equal(t, 2, info.Edges)
	})

	t.Run("minimal_document", func(t *testing.T) {
		path := writeFlowFile(t, `{}`)

		info, err := Inspect(path)
		require.NoError(t, err)
		assert.Empty(t, info.Name)
		assert.Zero(t, info.Nodes)
		assert.Zero(t, info.Edges)
	})

	t.Run("not_json", func(t *testing.T) {
		path := writeFlowFile(t, "not json")

		info, err := Inspect(path)
		require.Error(t, err)
		assert.Nil(t, info)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("not_readable", func(t *testing.T) {
		info, err := Inspect("/nonexistent/flow.json")
		require.Error(t, err)
		assert.Nil(t, info)
		assert.True(t, errors.IsIOError(err))
	})
}
