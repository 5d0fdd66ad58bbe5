package semantic

// Match identifies the best candidate found by FindSimilar.
type Match struct {
	// Index into the candidate pool passed to FindSimilar.
	Index int
	Score float64
}

// FindSimilar vectorizes the pool together with the query and returns the
// candidate with the highest cosine similarity, provided it reaches the
// threshold (inclusive). Ties break to the first candidate in pool order.
// An empty pool, or a query whose tokens are all stopwords, yields no match.
func FindSimilar(query string, pool []string, threshold float64) (Match, bool) {
	if len(pool) == 0 {
		return Match{}, false
	}

	docs := make([]string, 0, len(pool)+1)
	docs = append(docs, pool...)
	docs = append(docs, query)
	vectors := vectorizeAll(docs)

	qv := vectors[len(vectors)-1]
	if len(qv) == 0 {
		return Match{}, false
	}

	best := Match{Index: -1}
	for i := 0; i < len(pool); i++ {
		score := cosine(qv, vectors[i])
		if best.Index == -1 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}

	if best.Index == -1 || best.Score < threshold {
		return Match{}, false
	}
	return best, true
}
