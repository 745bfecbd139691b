package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble(t *testing.T) {
	history := []Turn{User("q1"), Assistant("a1")}

	t.Run("system history input", func(t *testing.T) {
		got := Assemble("sys", history, "q2")
		assert.Equal(t, []Turn{System("sys"), User("q1"), Assistant("a1"), User("q2")}, got)
	})

	t.Run("empty system prompt is omitted", func(t *testing.T) {
		got := Assemble("", history, "q2")
		assert.Equal(t, []Turn{User("q1"), Assistant("a1"), User("q2")}, got)
	})

	t.Run("no history", func(t *testing.T) {
		got := Assemble("sys", nil, "q")
		assert.Equal(t, []Turn{System("sys"), User("q")}, got)
	})

	t.Run("does not alias history", func(t *testing.T) {
		h := make([]Turn, 2, 10)
		copy(h, history)
		got := Assemble("", h, "q2")
		got[0].Content = "changed"
		assert.Equal(t, "q1", h[0].Content)
	})
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"system", "user", "assistant"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, s, r.String())
	}

	_, err := ParseRole("tool")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}
