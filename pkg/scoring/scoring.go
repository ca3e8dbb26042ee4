package scoring

import (
	"strconv"
	"strings"
	"time"
)

// Weights of the composite similarity score. They sum to 1 so the composite
// stays in [0,1]. Subject overlap dominates because shared genres are the
// strongest signal that two authors appeal to the same readers.
const (
	WeightSubjects = 0.40
	WeightRatings  = 0.25
	WeightWorks    = 0.20
	WeightEra      = 0.15
)

// ratingScale is the provider's maximum star rating.
const ratingScale = 5.0

// Profile is the slice of an author used for similarity scoring.
type Profile struct {
	AuthorID      int
	Subjects      map[string]bool
	AverageRating *float64
	WorkCount     int
	BirthYear     *int
	DeathYear     *int
}

// Composite returns the weighted similarity of two author profiles, in [0,1].
func Composite(a, b *Profile) float64 {
	score := WeightSubjects * SubjectOverlap(a.Subjects, b.Subjects)
	score += WeightRatings * RatingSimilarity(a.AverageRating, b.AverageRating)
	score += WeightWorks * WorkCountSimilarity(a.WorkCount, b.WorkCount)
	score += WeightEra * EraOverlap(a, b)
	return score
}

// SubjectOverlap is the Jaccard index of the two subject sets. Two empty
// sets share nothing rather than everything.
func SubjectOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for subject := range a {
		if b[subject] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// RatingSimilarity maps the absolute rating delta onto [0,1]. Authors with
// no rating contribute nothing to the composite.
func RatingSimilarity(a, b *float64) float64 {
	if a == nil || b == nil {
		return 0
	}
	delta := *a - *b
	if delta < 0 {
		delta = -delta
	}
	return 1 - delta/ratingScale
}

// WorkCountSimilarity is the min/max ratio of the two work counts.
func WorkCountSimilarity(a, b int) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// EraOverlap compares the decades during which the two authors were active.
// A missing birth year zeroes the dimension; a missing death year means
// still active.
func EraOverlap(a, b *Profile) float64 {
	aStart, aEnd, ok := activePeriod(a)
	if !ok {
		return 0
	}
	bStart, bEnd, ok := activePeriod(b)
	if !ok {
		return 0
	}

	overlapStart := aStart
	if bStart > overlapStart {
		overlapStart = bStart
	}
	overlapEnd := aEnd
	if bEnd < overlapEnd {
		overlapEnd = bEnd
	}
	if overlapEnd < overlapStart {
		return 0
	}

	span := aEnd - aStart
	if bEnd-bStart > span {
		span = bEnd - bStart
	}
	if span == 0 {
		return 1
	}
	return float64(overlapEnd-overlapStart) / float64(span)
}

func activePeriod(p *Profile) (start, end int, ok bool) {
	if p.BirthYear == nil {
		return 0, 0, false
	}
	start = decade(*p.BirthYear)
	if p.DeathYear != nil {
		end = decade(*p.DeathYear)
	} else {
		end = decade(time.Now().Year())
	}
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

func decade(year int) int {
	return year - year%10
}

// NormalizeSubject canonicalizes a subject tag for storage and overlap
// comparison: lowercased with surrounding and repeated whitespace removed.
func NormalizeSubject(subject string) string {
	return strings.Join(strings.Fields(strings.ToLower(subject)), " ")
}

// ParseYear extracts a four-digit year from a provider date string such as
// "1821-11-11", "11 November 1821", or "1821". It returns nil when no year
// is present.
func ParseYear(date *string) *int {
	if date == nil {
		return nil
	}
	for _, field := range strings.FieldsFunc(*date, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == ','
	}) {
		if len(field) != 4 {
			continue
		}
		year, err := strconv.Atoi(field)
		if err == nil && year > 0 {
			return &year
		}
	}
	return nil
}
