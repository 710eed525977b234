package models

type Link struct {
	Label string
	URL   string
}

// Notification is a transport-agnostic rendered announcement.
type Notification struct {
	Title        string
	Body         string
	ThumbnailURL string
	Footer       string
	Color        int
	Links        []Link

	// Summary is a longer project description for transports with room for it.
	Summary string
}
