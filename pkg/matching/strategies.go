package matching

import (
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/xrash/smetrics"
)

// remoteIDStrategy matches a candidate whose provider key equals the key
// already recorded for the catalog author.
type remoteIDStrategy struct{}

func (remoteIDStrategy) Name() string { return MethodRemoteID }

func (remoteIDStrategy) CanHandle(target Target, _ *metadata.AuthorSummary) bool {
	return target.KnownKey != nil && *target.KnownKey != ""
}

func (remoteIDStrategy) Match(target Target, candidate *metadata.AuthorSummary) *Result {
	if candidate.Key == *target.KnownKey {
		return &Result{Candidate: candidate, Confidence: ConfidenceKnownIdentifier, Method: MethodRemoteID}
	}
	return nil
}

// exactNameStrategy compares normalized primary names.
type exactNameStrategy struct{}

func (exactNameStrategy) Name() string { return MethodExactName }

func (exactNameStrategy) CanHandle(target Target, _ *metadata.AuthorSummary) bool {
	return target.Name != ""
}

func (exactNameStrategy) Match(target Target, candidate *metadata.AuthorSummary) *Result {
	if NormalizeName(target.Name) == NormalizeName(candidate.Name) {
		return &Result{Candidate: candidate, Confidence: ConfidenceExactName, Method: MethodExactName}
	}
	return nil
}

// alternateNameStrategy compares the normalized target name against the
// candidate's alternate names.
type alternateNameStrategy struct{}

func (alternateNameStrategy) Name() string { return MethodAlternateName }

func (alternateNameStrategy) CanHandle(target Target, candidate *metadata.AuthorSummary) bool {
	return target.Name != "" && len(candidate.AlternateNames) > 0
}

func (alternateNameStrategy) Match(target Target, candidate *metadata.AuthorSummary) *Result {
	normalized := NormalizeName(target.Name)
	for _, alt := range candidate.AlternateNames {
		if normalized == NormalizeName(alt) {
			return &Result{Candidate: candidate, Confidence: ConfidenceAlternateName, Method: MethodAlternateName}
		}
	}
	return nil
}

// fuzzyStrategy is the fallback: Jaro-Winkler over normalized names, scaled
// into a confidence below the exact tiers. Below the similarity floor it
// declines entirely.
type fuzzyStrategy struct{}

func (fuzzyStrategy) Name() string { return MethodFuzzy }

func (fuzzyStrategy) CanHandle(target Target, _ *metadata.AuthorSummary) bool {
	return target.Name != ""
}

func (fuzzyStrategy) Match(target Target, candidate *metadata.AuthorSummary) *Result {
	similarity := smetrics.JaroWinkler(NormalizeName(target.Name), NormalizeName(candidate.Name), 0.7, 4)
	if similarity < FuzzyMinSimilarity {
		return nil
	}
	return &Result{Candidate: candidate, Confidence: similarity * FuzzyConfidenceScale, Method: MethodFuzzy}
}

// DefaultStrategies returns the closed strategy list in priority order:
// identifier first, then exact name, alternate name, and the fuzzy fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{
		remoteIDStrategy{},
		exactNameStrategy{},
		alternateNameStrategy{},
		fuzzyStrategy{},
	}
}
