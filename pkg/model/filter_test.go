package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testResolver(field string) (FilterFieldBucket, string, bool) {
	switch field {
	case "genre":
		return BucketShortString, "marqo__filter_genre", true
	case "year":
		return BucketInt, "marqo__filter_year", true
	}
	return 0, "", false
}

func TestCompile_EqualityAndRange(t *testing.T) {
	tree := &FilterNode{
		Op: OpAnd,
		Children: []*FilterNode{
			{Op: OpEq, Field: "genre", Value: "scifi"},
			{Op: OpRange, Field: "year", Lower: strPtr("1990"), Upper: strPtr("2000")},
		},
	}
	out, err := Compile(tree, testResolver, false)
	require.NoError(t, err)
	require.Contains(t, out, "marqo__filter_genre")
	require.Contains(t, out, "marqo__filter_year")
}

func TestCompile_InUnsupportedOnUnstructured(t *testing.T) {
	tree := &FilterNode{Op: OpIn, Field: "genre", Values: []string{"a", "b"}}
	_, err := Compile(tree, testResolver, true)
	require.Error(t, err)

	_, err = Compile(tree, testResolver, false)
	require.NoError(t, err)
}

func TestCompile_IDMapsToDocumentID(t *testing.T) {
	tree := &FilterNode{Op: OpEq, Field: "_id", Value: "doc-1"}
	out, err := Compile(tree, testResolver, false)
	require.NoError(t, err)
	require.Contains(t, out, "id")
}

func strPtr(s string) *string { return &s }
