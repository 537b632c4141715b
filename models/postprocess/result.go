// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-fomo/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in input pixels.
	Box images.Rect `json:"box"`
	// The confidence score of the result.
	Score float32 `json:"score"`
	// The predicted class index of the result (0 is background and never reported).
	Class int `json:"class"`
	// The human-readable class name, when the model has one.
	Label string `json:"label,omitempty"`
	// The number of grid cells merged into the result.
	Cells int `json:"cells"`
}

// SortByScore orders results by descending score, keeping the input order for ties.
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
