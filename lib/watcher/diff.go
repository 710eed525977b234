package watcher

import "github.com/fiffu/releasewatch/lib/models"

// Diff returns the candidates whose id is not in seen, oldest first.
//
// An empty seen set means the stream was never observed, and every current
// candidate is returned. Announcing the full backlog on first observation is
// intentional; pre-seed the state file to suppress it.
func Diff(candidates models.CandidateItems, order models.ItemOrder, seen models.SeenSet) models.CandidateItems {
	out := make(models.CandidateItems, 0, len(candidates))
	for _, item := range candidates {
		if !seen.Has(item.ID) {
			out = append(out, item)
		}
	}

	if order == models.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
