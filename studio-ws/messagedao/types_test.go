package messagedao

import (
	"testing"

	"github.com/tj/assert"
)

func TestToggle(t *testing.T) {
	t.Run("adds a first reaction", func(t *testing.T) {
		out := Toggle(nil, "👍", "alice")
		assert.Equal(t, map[string][]string{"👍": {"alice"}}, out)
	})

	t.Run("adds alongside existing reactors", func(t *testing.T) {
		in := map[string][]string{"👍": {"alice"}}
		out := Toggle(in, "👍", "bob")
		assert.Equal(t, []string{"alice", "bob"}, out["👍"])
	})

	t.Run("removes an existing reaction", func(t *testing.T) {
		in := map[string][]string{"👍": {"alice", "bob"}}
		out := Toggle(in, "👍", "alice")
		assert.Equal(t, []string{"bob"}, out["👍"])
	})

	t.Run("empty sets are dropped, not stored", func(t *testing.T) {
		in := map[string][]string{"👍": {"alice"}, "🎉": {"bob"}}
		out := Toggle(in, "👍", "alice")
		_, found := out["👍"]
		assert.False(t, found)
		assert.Equal(t, []string{"bob"}, out["🎉"])
	})

	t.Run("input map is never mutated", func(t *testing.T) {
		in := map[string][]string{"👍": {"alice"}}
		_ = Toggle(in, "👍", "bob")
		assert.Equal(t, []string{"alice"}, in["👍"])
	})
}
