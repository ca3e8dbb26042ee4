package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Fyodor Dostoevsky", "fyodor dostoevsky"},
		{"  Fyodor   Dostoevsky ", "fyodor dostoevsky"},
		{"Dostoevsky, Fyodor", "dostoevsky fyodor"},
		{"J.R.R. Tolkien", "j r r tolkien"},
		{"O'Brien", "o brien"},
		{"Ursula K. Le Guin", "ursula k le guin"},
		{"", ""},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeName(c.in), "input %q", c.in)
	}
}
