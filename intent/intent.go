// Package intent decides whether a question asks for a visualization.
//
// This is a deliberate coarse heuristic, not NLU: a case-insensitive substring
// match over a fixed vocabulary of chart-intent terms. A question containing
// any listed term classifies positive even when the intent is unrelated
// ("don't plot anything" still classifies positive). That trade-off is
// documented and accepted; the vocabulary is the policy knob, not the
// matching algorithm.
package intent

import "strings"

// DefaultTerms is the built-in chart-intent vocabulary, English plus the
// Portuguese forms the seller dataset's users actually type.
var DefaultTerms = []string{
	"chart",
	"plot",
	"graph",
	"diagram",
	"visualize",
	"visualise",
	"visualization",
	"show graphically",
	// pt-BR
	"gráfico",
	"grafico",
	"plote",
	"plotar",
	"visualizar",
	"visualização",
	"desenhe",
}

// Classifier answers WantsChart for raw question text. It is deterministic,
// side-effect free and safe for concurrent use after construction.
type Classifier struct {
	terms []string
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithTerms appends extra vocabulary terms (matched case-insensitively).
func WithTerms(terms ...string) Option {
	return func(c *Classifier) {
		c.terms = append(c.terms, terms...)
	}
}

// WithVocabulary replaces the default vocabulary entirely.
func WithVocabulary(terms []string) Option {
	return func(c *Classifier) {
		c.terms = append([]string(nil), terms...)
	}
}

// NewClassifier builds a classifier over the default vocabulary.
func NewClassifier(optFns ...Option) *Classifier {
	c := &Classifier{terms: append([]string(nil), DefaultTerms...)}
	for _, fn := range optFns {
		fn(c)
	}
	// Pre-fold once so WantsChart only folds the question.
	for i, t := range c.terms {
		c.terms[i] = strings.ToLower(t)
	}
	return c
}

// WantsChart reports whether the question contains any chart-intent term.
func (c *Classifier) WantsChart(question string) bool {
	q := strings.ToLower(question)
	for _, term := range c.terms {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

// Terms returns the active vocabulary (lower-cased).
func (c *Classifier) Terms() []string {
	out := make([]string, len(c.terms))
	copy(out, c.terms)
	return out
}
