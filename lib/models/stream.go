package models

import "fmt"

type SourceKind string

const (
	SourceModtale    SourceKind = "modtale"
	SourceCurseforge SourceKind = "curseforge"
)

// SourceKinds lists every supported kind in a stable order.
var SourceKinds = []SourceKind{SourceModtale, SourceCurseforge}

func ParseSourceKind(s string) (SourceKind, error) {
	for _, k := range SourceKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown source kind: %s", s)
}

// Stream identifies one polled project feed.
type Stream struct {
	Kind SourceKind
	Key  string
}

func (s Stream) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Key)
}

// StreamConfig carries the per-stream settings that are not part of its identity.
type StreamConfig struct {
	Stream
	Slug     string // CurseForge project slug, used to build site links
	APIToken string // Modtale API key, optional
}
