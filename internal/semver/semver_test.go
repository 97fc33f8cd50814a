package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Version
	}{
		{"1.2.3", Version{1, 2, 3}},
		{"v1.2.3", Version{1, 2, 3}},
		{"2.0.0.99", Version{2, 0, 0}},
		{"1", Version{1, 0, 0}},
		{"1.2", Version{1, 2, 0}},
		{"1.2.3-rc1", Version{1, 2, 3}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	assert.True(t, Less(MustParse("1.0.0"), MustParse("2.0.0")))
	assert.True(t, Less(MustParse("1.0.0"), MustParse("1.1.0")))
	assert.True(t, Less(MustParse("1.0.0"), MustParse("1.0.1")))
	assert.False(t, Less(MustParse("1.0.0"), MustParse("1.0.0")))
	assert.True(t, AtLeast(MustParse("2.0.0"), MustParse("1.9.9")))
	assert.True(t, AtLeast(MustParse("1.0.0"), MustParse("1.0.0")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "1.2.3", MustParse("1.2.3").String())
}
