package scoring

import (
	"testing"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestSubjectOverlap(t *testing.T) {
	set := func(subjects ...string) map[string]bool {
		m := map[string]bool{}
		for _, s := range subjects {
			m[s] = true
		}
		return m
	}

	assert.Equal(t, 1.0, SubjectOverlap(set("fiction", "classics"), set("fiction", "classics")))
	assert.Equal(t, 0.0, SubjectOverlap(set("fiction"), set("poetry")))
	assert.InDelta(t, 1.0/3.0, SubjectOverlap(set("fiction", "classics"), set("fiction", "poetry")), 1e-9)
	assert.Equal(t, 0.0, SubjectOverlap(nil, set("fiction")))
	assert.Equal(t, 0.0, SubjectOverlap(nil, nil))
}

func TestRatingSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, RatingSimilarity(pointerutil.Float64(4.2), pointerutil.Float64(4.2)))
	assert.InDelta(t, 0.8, RatingSimilarity(pointerutil.Float64(4.0), pointerutil.Float64(3.0)), 1e-9)
	assert.Equal(t, 0.0, RatingSimilarity(nil, pointerutil.Float64(4.0)))
	assert.Equal(t, 0.0, RatingSimilarity(pointerutil.Float64(0.0), pointerutil.Float64(5.0)))
}

func TestWorkCountSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, WorkCountSimilarity(10, 10))
	assert.Equal(t, 0.5, WorkCountSimilarity(5, 10))
	assert.Equal(t, 0.5, WorkCountSimilarity(10, 5))
	assert.Equal(t, 0.0, WorkCountSimilarity(0, 10))
}

func TestEraOverlap(t *testing.T) {
	profile := func(birth, death *int) *Profile {
		return &Profile{BirthYear: birth, DeathYear: death}
	}

	t.Run("identical periods overlap fully", func(t *testing.T) {
		a := profile(intPtr(1821), intPtr(1881))
		assert.Equal(t, 1.0, EraOverlap(a, profile(intPtr(1821), intPtr(1881))))
	})

	t.Run("disjoint periods do not overlap", func(t *testing.T) {
		a := profile(intPtr(1800), intPtr(1850))
		b := profile(intPtr(1900), intPtr(1950))
		assert.Equal(t, 0.0, EraOverlap(a, b))
	})

	t.Run("partial overlap is proportional", func(t *testing.T) {
		a := profile(intPtr(1820), intPtr(1880)) // decades 1820..1880
		b := profile(intPtr(1860), intPtr(1920)) // decades 1860..1920
		assert.InDelta(t, 20.0/60.0, EraOverlap(a, b), 1e-9)
	})

	t.Run("missing birth year zeroes the dimension", func(t *testing.T) {
		a := profile(nil, intPtr(1881))
		b := profile(intPtr(1821), intPtr(1881))
		assert.Equal(t, 0.0, EraOverlap(a, b))
	})
}

func TestComposite(t *testing.T) {
	a := &Profile{
		Subjects:      map[string]bool{"fiction": true, "classics": true},
		AverageRating: pointerutil.Float64(4.2),
		WorkCount:     10,
		BirthYear:     intPtr(1821),
		DeathYear:     intPtr(1881),
	}
	b := &Profile{
		Subjects:      map[string]bool{"fiction": true, "classics": true},
		AverageRating: pointerutil.Float64(4.2),
		WorkCount:     10,
		BirthYear:     intPtr(1821),
		DeathYear:     intPtr(1881),
	}

	t.Run("identical profiles score 1", func(t *testing.T) {
		assert.InDelta(t, 1.0, Composite(a, b), 1e-9)
	})

	t.Run("empty profiles score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, Composite(&Profile{}, &Profile{}))
	})

	t.Run("weights sum to one", func(t *testing.T) {
		assert.InDelta(t, 1.0, WeightSubjects+WeightRatings+WeightWorks+WeightEra, 1e-9)
	})
}

func TestParseYear(t *testing.T) {
	assert.Equal(t, 1821, *ParseYear(pointerutil.String("1821-11-11")))
	assert.Equal(t, 1821, *ParseYear(pointerutil.String("11 November 1821")))
	assert.Equal(t, 1821, *ParseYear(pointerutil.String("1821")))
	assert.Nil(t, ParseYear(pointerutil.String("unknown")))
	assert.Nil(t, ParseYear(nil))
}
