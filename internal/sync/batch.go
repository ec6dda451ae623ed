package sync

import (
	"github.com/devimpact/devimpact-cli/internal/models"
)

// MaxPullsPerBatch is the number of hydrated pull requests sent per backend push
const MaxPullsPerBatch = 25

// Dedupe merges the authored and reviewed result sets by PR number.
// Authored entries are inserted first, then reviewed ones. When both sets hold
// the same number the reviewed entry replaces the authored one in place, so the
// result keeps first-seen order with last-write-wins values.
func Dedupe(authored, reviewed []models.PullRequestSummary) []models.PullRequestSummary {
	index := make(map[int]int, len(authored)+len(reviewed))
	unique := make([]models.PullRequestSummary, 0, len(authored)+len(reviewed))

	for _, set := range [][]models.PullRequestSummary{authored, reviewed} {
		for _, pr := range set {
			number := pr.GetNumber()
			if i, ok := index[number]; ok {
				unique[i] = pr
				continue
			}
			index[number] = len(unique)
			unique = append(unique, pr)
		}
	}

	return unique
}

// Chunk splits items into consecutive slices of at most size elements.
// It returns nil for an empty input.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}

	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
