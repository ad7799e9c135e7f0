package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), bypassManager())

	assert.Equal(t, []string{"Bash", "Edit", "Read", "Write"}, r.IDs())

	bash, ok := r.Get("Bash")
	require.True(t, ok)
	assert.Equal(t, "Bash", bash.ID())

	_, ok = r.Get("Teleport")
	assert.False(t, ok)

	assert.Len(t, r.List(), 4)
}
