package models

// CandidateItem is one publishable artifact reported by a source.
// ID is the only field used to decide whether the item was already announced.
type CandidateItem struct {
	ID           string
	DisplayLabel string
	Raw          any
}

type CandidateItems []CandidateItem

func (items CandidateItems) IDs() []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// ItemOrder describes how a source sorts the items it returns.
type ItemOrder int

const (
	NewestFirst ItemOrder = iota
	OldestFirst
)

// ProjectMetadata is descriptive context for rendering only.
type ProjectMetadata struct {
	Title        string
	Author       string
	ThumbnailURL string
	Slug         string
	Summary      string
}

// FetchResult is the normalized output of one source fetch.
type FetchResult struct {
	Items    CandidateItems
	Order    ItemOrder
	Metadata ProjectMetadata
}
