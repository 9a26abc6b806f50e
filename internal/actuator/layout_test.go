package actuator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayout(t *testing.T) {
	dir := t.TempDir()

	t.Run("有效布局", func(t *testing.T) {
		path := filepath.Join(dir, "ok.yaml")
		require.NoError(t, os.WriteFile(path, []byte("groups:\n  - name: front\n    elements: 4\n"), 0o644))
		l, err := LoadLayout(path)
		require.NoError(t, err)
		g, ok := l.Find("front")
		require.True(t, ok)
		assert.Equal(t, 4, g.Elements)
		_, ok = l.Find("back")
		assert.False(t, ok)
		assert.Equal(t, []string{"front"}, l.Names())
	})

	cases := []struct {
		name string
		body string
	}{
		{"未知组名", "groups:\n  - name: side\n    elements: 2\n"},
		{"重复组名", "groups:\n  - name: back\n    elements: 2\n  - name: back\n    elements: 2\n"},
		{"元素数为零", "groups:\n  - name: back\n    elements: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := LoadLayout(path)
			assert.ErrorIs(t, err, ErrLayout)
		})
	}

	t.Run("文件不存在", func(t *testing.T) {
		_, err := LoadLayout(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestSimDriver(t *testing.T) {
	d := NewSimDriver(DefaultLayout(), nil)

	require.NoError(t, d.Set("front", 0, true))
	require.NoError(t, d.Set("front", 2, true))
	assert.Equal(t, []bool{true, false, true}, d.State("front"))
	assert.False(t, d.AllOff())

	assert.Error(t, d.Set("front", 3, true))
	assert.Error(t, d.Set("side", 0, true))

	boom := errors.New("gpio")
	d.FailOn("back", 1, boom)
	assert.ErrorIs(t, d.Set("back", 1, true), boom)
	d.FailOn("back", 1, nil)
	assert.NoError(t, d.Set("back", 1, false))

	require.NoError(t, d.Set("front", 0, false))
	require.NoError(t, d.Set("front", 2, false))
	assert.True(t, d.AllOff())
	assert.Len(t, d.Events("front"), 4)
	assert.Len(t, d.Events(""), 5)

	d.Reset()
	assert.Empty(t, d.Events(""))
}
