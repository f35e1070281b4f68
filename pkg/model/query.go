package model

// QueryMethod distinguishes the three MarqoQuery variants (§3.3).
type QueryMethod string

const (
	QueryLexical QueryMethod = "Lexical"
	QueryTensor  QueryMethod = "Tensor"
	QueryHybrid  QueryMethod = "Hybrid"
)

// RetrievalMethod is the retrieval-side half of HybridParameters (§4.5.1).
type RetrievalMethod string

const (
	RetrievalDisjunction RetrievalMethod = "Disjunction"
	RetrievalLexical     RetrievalMethod = "Lexical"
	RetrievalTensor      RetrievalMethod = "Tensor"
)

// RankingMethod is the ranking-side half of HybridParameters (§4.5.1).
type RankingMethod string

const (
	RankingRRF     RankingMethod = "RRF"
	RankingLexical RankingMethod = "Lexical"
	RankingTensor  RankingMethod = "Tensor"
)

// ContextVector is one element of HybridQuery.Context.Tensor (§4.5.5).
type ContextVector struct {
	Vector []float32
	Weight float64
}

// ScoreModifierEntry is one additive or multiplicative score-modifier rule.
type ScoreModifierEntry struct {
	FieldName string
	Weight    float64
	Additive  bool // true = add_to_score, false = multiply_score_by
}

// HybridParameters configures a Hybrid-mode MarqoQuery (§4.5.1).
type HybridParameters struct {
	RetrievalMethod RetrievalMethod
	RankingMethod   RankingMethod

	Alpha float64 // valid only when RankingMethod == RRF
	RRFK  int     // valid only when RankingMethod == RRF

	SearchableAttributesLexical []string
	SearchableAttributesTensor  []string

	ScoreModifiersLexical []ScoreModifierEntry
	ScoreModifiersTensor  []ScoreModifierEntry

	Verbose bool
}

// DefaultHybridParameters returns the §4.5.1 defaults.
func DefaultHybridParameters() HybridParameters {
	return HybridParameters{
		RetrievalMethod: RetrievalDisjunction,
		RankingMethod:   RankingRRF,
		Alpha:           0.5,
		RRFK:            60,
	}
}

// MarqoQuery is the fully-resolved, validated query the Hybrid Search
// Coordinator builds into a store RPC (§3.3).
type MarqoQuery struct {
	Method QueryMethod
	Index  string

	Text  string // lexical text, or tensor query text before embedding
	Query any    // CustomVectorQuery | text | media URL, per §4.5.5

	Filter *FilterNode

	SearchableAttributes []string
	ScoreModifiers       []ScoreModifierEntry

	Limit  int
	Offset int

	AttributesToRetrieve []string // tensor/hybrid only

	Context []ContextVector

	Hybrid HybridParameters

	// Root-level fields, valid only with Disjunction+RRF (§4.5.1)
	RootScoreModifiers []ScoreModifierEntry
	RerankDepth        *int
}

// CustomVectorQuery lets a caller supply the query vector directly (§4.5.5).
type CustomVectorQuery struct {
	Vector  []float32
	Content string
}
