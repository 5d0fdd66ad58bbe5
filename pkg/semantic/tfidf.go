// Package semantic finds the most textually similar prompt in a candidate
// pool using term-frequency/inverse-document-frequency vectors and cosine
// similarity. The model is fit fresh on each pool; nothing is persisted, so
// scores always reflect the current candidates.
package semantic

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lowercases the text and splits it on non-alphanumeric runs,
// dropping english stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; !skip {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// vector is a sparse term-weight vector keyed by vocabulary index.
type vector map[int]float64

// vectorizeAll fits a TF-IDF model on docs and returns one L2-normalized
// vector per document. IDF is smoothed: ln((1+n)/(1+df)) + 1.
func vectorizeAll(docs []string) []vector {
	vocab := make(map[string]int)
	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)

	for i, doc := range docs {
		tc := make(map[string]int)
		for _, tok := range tokenize(doc) {
			tc[tok]++
		}
		counts[i] = tc
		for tok := range tc {
			df[tok]++
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for tok, d := range df {
		idf[tok] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]vector, len(docs))
	for i, tc := range counts {
		v := make(vector, len(tc))
		var norm float64
		for tok, c := range tc {
			w := float64(c) * idf[tok]
			v[vocab[tok]] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for k := range v {
				v[k] /= norm
			}
		}
		vectors[i] = v
	}
	return vectors
}

// cosine returns the cosine similarity of two normalized vectors.
func cosine(a, b vector) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, av := range a {
		if bv, ok := b[k]; ok {
			dot += av * bv
		}
	}
	return dot
}
