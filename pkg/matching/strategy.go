package matching

import (
	"github.com/bibliograph/bibliograph/pkg/metadata"
)

// Confidence constants per strategy. Exact tiers are fixed; the fuzzy
// strategy scales the string similarity into the band below them.
const (
	ConfidenceKnownIdentifier = 1.0
	ConfidenceExactName       = 0.98
	ConfidenceAlternateName   = 0.97

	// FuzzyMinSimilarity is the Jaro-Winkler floor below which the fuzzy
	// strategy declines rather than fabricating a weak guess.
	FuzzyMinSimilarity = 0.92
	// FuzzyConfidenceScale maps a fuzzy similarity into a confidence below
	// the exact tiers.
	FuzzyConfidenceScale = 0.95
)

// Match method tags recorded on mappings.
const (
	MethodRemoteID      = "remote_id"
	MethodExactName     = "exact_name"
	MethodAlternateName = "alternate_name"
	MethodFuzzy         = "fuzzy"
)

// Target is the catalog author being matched. KnownKey carries the provider
// key from an existing mapping, when one exists.
type Target struct {
	Name     string
	KnownKey *string
}

// Result is the transient outcome of one match attempt. It is never
// persisted directly; the link stage copies what it needs onto the mapping.
type Result struct {
	Candidate  *metadata.AuthorSummary
	Confidence float64
	Method     string
}

// Strategy is one way of deciding whether a search candidate is the catalog
// author. Strategies either decline (CanHandle false), return nil, or return
// a Result with their fixed confidence. The orchestrator tries them in a
// closed, ordered list; the order is part of the contract.
type Strategy interface {
	Name() string
	CanHandle(target Target, candidate *metadata.AuthorSummary) bool
	Match(target Target, candidate *metadata.AuthorSummary) *Result
}
