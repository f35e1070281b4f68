package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterFieldBucket tells the compiler which store-native attribute a
// logical field name maps to.
type FilterFieldBucket int

const (
	BucketShortString FilterFieldBucket = iota
	BucketInt
	BucketFloat
	BucketBool
	BucketStringArray
	BucketDocumentID
)

// FieldResolver maps a logical filter field name to its store bucket and
// physical attribute name, given the index it is being compiled against.
type FieldResolver func(field string) (bucket FilterFieldBucket, physical string, ok bool)

// FilterNode is a node in a filter expression tree (§3.4).
type FilterNode struct {
	Op FilterOp

	// And/Or
	Children []*FilterNode
	// Not
	Child *FilterNode
	// EqualityTerm / RangeTerm / InTerm
	Field  string
	Value  string
	Lower  *string
	Upper  *string
	Values []string
}

type FilterOp string

const (
	OpAnd   FilterOp = "And"
	OpOr    FilterOp = "Or"
	OpNot   FilterOp = "Not"
	OpEq    FilterOp = "Equality"
	OpRange FilterOp = "Range"
	OpIn    FilterOp = "In"
)

// Compile renders a filter tree into a store-native predicate string.
// unstructuredIndex gates IN-term support (§3.4: "For Unstructured, IN is
// unsupported").
func Compile(n *FilterNode, resolve FieldResolver, unstructuredIndex bool) (string, error) {
	if n == nil {
		return "", nil
	}
	switch n.Op {
	case OpAnd:
		return joinChildren(n.Children, resolve, unstructuredIndex, " AND ")
	case OpOr:
		return joinChildren(n.Children, resolve, unstructuredIndex, " OR ")
	case OpNot:
		inner, err := Compile(n.Child, resolve, unstructuredIndex)
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	case OpEq:
		return compileLeaf(n, resolve, unstructuredIndex)
	case OpRange:
		return compileLeaf(n, resolve, unstructuredIndex)
	case OpIn:
		if unstructuredIndex {
			return "", invalidArg("IN filter term on field %q is not supported on Unstructured indexes", n.Field)
		}
		return compileLeaf(n, resolve, unstructuredIndex)
	default:
		return "", invalidArg("unknown filter op %q", n.Op)
	}
}

func joinChildren(children []*FilterNode, resolve FieldResolver, unstructuredIndex bool, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		s, err := Compile(c, resolve, unstructuredIndex)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, sep), nil
}

func resolveField(field string, resolve FieldResolver) (FilterFieldBucket, string, error) {
	if field == "_id" {
		return BucketDocumentID, "id", nil
	}
	bucket, physical, ok := resolve(field)
	if !ok {
		return 0, "", invalidArg("unknown filter field %q", field)
	}
	return bucket, physical, nil
}

func compileLeaf(n *FilterNode, resolve FieldResolver, unstructuredIndex bool) (string, error) {
	bucket, physical, err := resolveField(n.Field, resolve)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case OpEq:
		return fmt.Sprintf("%s contains %s", physical, quoteIfString(bucket, n.Value)), nil
	case OpRange:
		var parts []string
		if n.Lower != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", physical, quoteIfString(bucket, *n.Lower)))
		}
		if n.Upper != nil {
			parts = append(parts, fmt.Sprintf("%s <= %s", physical, quoteIfString(bucket, *n.Upper)))
		}
		if len(parts) == 0 {
			return "", invalidArg("range term on field %q has neither lower nor upper bound", n.Field)
		}
		return strings.Join(parts, " AND "), nil
	case OpIn:
		parts := make([]string, 0, len(n.Values))
		for _, v := range n.Values {
			parts = append(parts, fmt.Sprintf("%s contains %s", physical, quoteIfString(bucket, v)))
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "", invalidArg("unsupported leaf op %q", n.Op)
}

func quoteIfString(bucket FilterFieldBucket, v string) string {
	switch bucket {
	case BucketInt, BucketFloat:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return v
		}
	case BucketBool:
		return v
	}
	return strconv.Quote(v)
}
