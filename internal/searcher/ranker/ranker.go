// Package ranker scores candidate documents with BM25 extended by a
// position-ratio field boost and an exponential recency prior.
package ranker

import (
	"math"
	"regexp"
	"sort"
	"time"
)

// Ranking constants.
const (
	K1 = 1.2
	B  = 0.75

	TitleBoost    = 3.0
	AbstractBoost = 2.0
	BodyBoost     = 1.0
	titleRatio    = 0.10
	abstractRatio = 0.30

	RecencyLambda  = 0.1
	RecencyWeight  = 0.10
	RecencyScale   = 10.0
	NeutralRecency = 0.5

	PhraseBaseScore = 100.0
)

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// Ranker holds the corpus statistics needed for scoring.
type Ranker struct {
	N           int
	AvgDocLen   float64
	CurrentYear int
}

// New creates a Ranker for a corpus of n documents with the given average
// document length. The current year anchors recency decay.
func New(n int, avgDocLen float64) *Ranker {
	return &Ranker{
		N:           n,
		AvgDocLen:   avgDocLen,
		CurrentYear: time.Now().Year(),
	}
}

// IDF computes ln((N - df + 0.5) / (df + 0.5) + 1).
func (r *Ranker) IDF(df uint32) float64 {
	n := float64(r.N)
	d := float64(df)
	return math.Log((n-d+0.5)/(d+0.5) + 1)
}

// BM25 scores one term occurrence. A zero document length (metadata
// unavailable) degrades to dl = avg_dl, making normalisation a no-op.
func (r *Ranker) BM25(tf uint32, df uint32, docLen uint32) float64 {
	dl := float64(docLen)
	if docLen == 0 || r.AvgDocLen == 0 {
		dl = r.AvgDocLen
	}
	norm := 1.0
	if r.AvgDocLen > 0 {
		norm = 1 - B + B*(dl/r.AvgDocLen)
	}
	t := float64(tf)
	return r.IDF(df) * (t * (K1 + 1) / (t + K1*norm))
}

// FieldBoost infers a field weight from a posting's first position relative
// to the document length: the leading tenth scores as title, the next fifth
// as abstract, the rest as body.
func FieldBoost(firstPos uint32, docLen uint32) float64 {
	if docLen == 0 {
		return BodyBoost
	}
	ratio := float64(firstPos) / float64(docLen)
	switch {
	case ratio < titleRatio:
		return TitleBoost
	case ratio < abstractRatio:
		return AbstractBoost
	default:
		return BodyBoost
	}
}

// Recency maps a pub_date string to exp(-lambda * age) using the first
// plausible 4-digit year, or NeutralRecency when no year parses.
func (r *Ranker) Recency(pubDate string) float64 {
	year := yearPattern.FindString(pubDate)
	if year == "" {
		return NeutralRecency
	}
	y := int(year[0]-'0')*1000 + int(year[1]-'0')*100 + int(year[2]-'0')*10 + int(year[3]-'0')
	age := r.CurrentYear - y
	if age < 0 {
		age = 0
	}
	return math.Exp(-RecencyLambda * float64(age))
}

// Combine folds the BM25 sum and recency score into the final score.
func Combine(bm25Sum, recency float64) float64 {
	return (1-RecencyWeight)*bm25Sum + RecencyWeight*recency*RecencyScale
}

// Scored is one ranked candidate.
type Scored struct {
	DocID   uint32
	Final   float64
	BM25    float64
	Recency float64
}

// SortAndTruncate orders candidates by final score descending with doc-ID
// ascending tie-break, then caps at topK.
func SortAndTruncate(results []Scored, topK int) []Scored {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Final != results[j].Final {
			return results[i].Final > results[j].Final
		}
		return results[i].DocID < results[j].DocID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
