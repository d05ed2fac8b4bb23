package apiclient

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURLJoinsWithSingleSlash(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"http://h/api", "x", "http://h/api/x"},
		{"http://h/api/", "x", "http://h/api/x"},
		{"http://h/api", "/x", "http://h/api/x"},
		{"http://h/api/", "/x", "http://h/api/x"},
		{"http://h/api///", "//x/y", "http://h/api/x/y"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BuildURL(tc.base, tc.path, nil), "%s + %s", tc.base, tc.path)
	}
}

func TestBuildURLColonInFirstSegmentKeepsBase(t *testing.T) {
	assert.Equal(t, "http://h/api/a:b", BuildURL("http://h/api", "a:b", nil))
	assert.Equal(t, "http://h/api/a:b/c", BuildURL("http://h/api/", "/a:b/c", nil))
	assert.Equal(t, "/a:b", BuildURL("", "a:b", nil))
}

func TestBuildURLAbsolutePathIgnoresBase(t *testing.T) {
	got := BuildURL("http://h/api", "https://other.example.com/files/1", nil)
	assert.Equal(t, "https://other.example.com/files/1", got)
}

func TestBuildURLEmptyBaseIsOriginRelative(t *testing.T) {
	assert.Equal(t, "/api/x", BuildURL("", "api/x", nil))
	assert.Equal(t, "/api/x?a=1", BuildURL("", "/api/x", Query{"a": 1}))
}

func TestBuildURLQuerySerialization(t *testing.T) {
	epoch := time.Unix(0, 0)
	var missing *string

	got := BuildURL("http://h", "p", Query{
		"a": []int{1, 2},
		"b": nil,
		"c": epoch,
		"d": missing,
		"e": "x y",
	})

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, []string{"1", "2"}, q["a"])
	assert.NotContains(t, q, "b")
	assert.NotContains(t, q, "d")
	assert.Equal(t, "1970-01-01T00:00:00.000Z", q.Get("c"))
	assert.Equal(t, "x y", q.Get("e"))
	assert.Contains(t, got, "a=1&a=2")
}

func TestBuildURLMergesExistingQuery(t *testing.T) {
	got := BuildURL("http://h/api", "items?page=2&sort=name", Query{"page": 3, "tag": []string{"x"}})

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/api/items", u.Path)
	assert.Equal(t, "3", u.Query().Get("page"))
	assert.Equal(t, "name", u.Query().Get("sort"))
	assert.Equal(t, "x", u.Query().Get("tag"))
}

func TestBuildURLSliceAppendsToExisting(t *testing.T) {
	got := BuildURL("http://h", "p?a=0", Query{"a": []string{"1"}})
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, u.Query()["a"])
}
