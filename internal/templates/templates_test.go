package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltin(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "tubitak-2209a", list[0].ID)

	tpl, ok := r.Get("tubitak-2209a")
	require.True(t, ok)
	assert.Equal(t, "TÜBİTAK 2209-A", tpl.Name)
	require.Len(t, tpl.Sections, 7)
	for i, s := range tpl.Sections {
		assert.Equal(t, i, s.Order)
	}
	assert.Equal(t, "Kaynakça", tpl.Sections[6].Title)
}

func TestLimits(t *testing.T) {
	r, err := Load()
	require.NoError(t, err)

	minW, maxW := r.Limits("tubitak-2209a", "Projenin Özeti")
	assert.Equal(t, 25, minW)
	assert.Equal(t, 450, maxW)

	minW, maxW = r.Limits("tubitak-1001", "Literatür Özeti")
	assert.Equal(t, 200, minW)
	assert.Equal(t, 2000, maxW)

	minW, maxW = r.Limits("tubitak-2209a", "Yöntem")
	assert.Zero(t, minW)
	assert.Zero(t, maxW)

	minW, maxW = r.Limits("missing", "Projenin Özeti")
	assert.Zero(t, minW)
	assert.Zero(t, maxW)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("- name: no id\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("- id: a\n- id: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("- id: a\n  sections:\n    - title: x\n      minWords: 10\n      maxWords: 5\n"))
	assert.Error(t, err)
}

func TestParseSortsSections(t *testing.T) {
	r, err := Parse([]byte("- id: a\n  sections:\n    - title: second\n      order: 2\n    - title: first\n      order: 1\n"))
	require.NoError(t, err)

	tpl, _ := r.Get("a")
	assert.Equal(t, "first", tpl.Sections[0].Title)
}
