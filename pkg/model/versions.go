package model

import (
	"strconv"
	"strings"
)

// MinHybridSearchVersion is the lowest Marqo version at which legacy
// Unstructured indexes support hybrid search (§9 open question, pinned
// per the extracted version-feature matrix below rather than scattered
// per-call checks).
const MinHybridSearchVersion = "2.11.0"

// featureMinVersion records, per legacy-Unstructured feature, the lowest
// marqoVersion that supports it. Extracted from original_source's test
// suite cross-references (integ_tests/tensor_search and
// api_tests/unstructured_index) into one table, per spec §9's open
// question instruction.
var featureMinVersion = map[string]string{
	"hybrid_search":        MinHybridSearchVersion,
	"score_modifiers":      "2.9.0",
	"searchable_attributes": "2.9.0",
}

// SupportsFeature reports whether a legacy Unstructured index at
// marqoVersion supports the named feature.
func SupportsFeature(marqoVersion, feature string) bool {
	min, ok := featureMinVersion[feature]
	if !ok {
		return true
	}
	return compareVersions(marqoVersion, min) >= 0
}

// compareVersions compares two "x.y.z" semver-ish strings, returning
// -1, 0, or 1. Non-numeric or short components are treated as 0.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
