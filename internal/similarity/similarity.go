package similarity

import (
	"errors"
	"sort"
)

// DefaultK is the number of recommendations returned when no explicit k is given.
const DefaultK = 6

var ErrInvalidMatrix = errors.New("invalid similarity matrix")

// Entry is one column of a matrix row.
type Entry struct {
	Item  string
	Score float64
}

// Row keeps entries in the column order of the source table.
type Row []Entry

// Matrix maps an item to its row of pairwise scores. A nil Matrix means the
// similarity data could not be loaded.
type Matrix map[string]Row

type Status string

const (
	StatusFound       Status = "found"
	StatusKeyNotFound Status = "key_not_found"
	StatusUnavailable Status = "unavailable"
)

// Result holds the top-K neighbours of Key. Items and Scores are parallel and
// sorted by descending score.
type Result struct {
	Key    string    `json:"key"`
	Items  []string  `json:"items"`
	Scores []float64 `json:"scores"`
	Status Status    `json:"status"`
}

// Available reports whether the result came from a matrix row.
func (r Result) Available() bool {
	return r.Status == StatusFound
}

func empty(key string, status Status) Result {
	return Result{
		Key:    key,
		Items:  []string{},
		Scores: []float64{},
		Status: status,
	}
}

// Lookup returns the k entries of key's row with the highest scores, excluding
// key itself. Ties keep their column order. A non-positive k means DefaultK.
func Lookup(key string, m Matrix, k int) Result {
	if m == nil {
		return empty(key, StatusUnavailable)
	}
	row, ok := m[key]
	if !ok {
		return empty(key, StatusKeyNotFound)
	}
	if k <= 0 {
		k = DefaultK
	}

	candidates := make(Row, 0, len(row))
	selfRemoved := false
	for _, e := range row {
		if !selfRemoved && e.Item == key {
			selfRemoved = true
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	res := empty(key, StatusFound)
	for _, e := range candidates {
		res.Items = append(res.Items, e.Item)
		res.Scores = append(res.Scores, e.Score)
	}
	return res
}
