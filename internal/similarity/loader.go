package similarity

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Table is the on-disk form of a similarity matrix: row i of Scores holds the
// scores of Items[i] against every item, in Items order.
type Table struct {
	Items  []string    `json:"items"`
	Scores [][]float64 `json:"scores"`
}

// LoadFile reads a Table from a JSON file and converts it to a Matrix.
func LoadFile(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}

	return Build(t.Items, t.Scores)
}

// Build validates a square score table and returns it as a Matrix.
func Build(items []string, scores [][]float64) (Matrix, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidMatrix)
	}
	if len(scores) != len(items) {
		return nil, fmt.Errorf("%w: %d items but %d rows", ErrInvalidMatrix, len(items), len(scores))
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item == "" {
			return nil, fmt.Errorf("%w: empty item id", ErrInvalidMatrix)
		}
		if _, dup := seen[item]; dup {
			return nil, fmt.Errorf("%w: duplicate item %q", ErrInvalidMatrix, item)
		}
		seen[item] = struct{}{}
	}

	m := make(Matrix, len(items))
	for i, item := range items {
		if len(scores[i]) != len(items) {
			return nil, fmt.Errorf("%w: row %q has %d columns, want %d",
				ErrInvalidMatrix, item, len(scores[i]), len(items))
		}

		row := make(Row, len(items))
		for j, score := range scores[i] {
			if math.IsNaN(score) || score < 0 || score > 1 {
				return nil, fmt.Errorf("%w: score %v at (%q, %q) outside [0,1]",
					ErrInvalidMatrix, score, item, items[j])
			}
			row[j] = Entry{Item: items[j], Score: score}
		}
		m[item] = row
	}

	return m, nil
}
