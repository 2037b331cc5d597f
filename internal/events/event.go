// Package events carries human-readable progress signals from a lookup
// to whoever is watching (CLI, UI, log file). Emitting is always
// fire-and-forget; a slow consumer never stalls a crawl.
package events

import (
	"fmt"
	"time"

	"github.com/avmeta/harvester/pkg/types"
)

// Kind classifies a lookup event.
type Kind string

const (
	KindSearch  Kind = "search"
	KindFetch   Kind = "fetch"
	KindOK      Kind = "ok"
	KindFail    Kind = "fail"
	KindTrailer Kind = "trailer"
	KindImage   Kind = "image"
	KindBypass  Kind = "bypass"
	KindCache   Kind = "cache"
)

// Emoji prefixes keep mixed-language log streams scannable.
var kindEmoji = map[Kind]string{
	KindSearch:  "🔍",
	KindFetch:   "🌐",
	KindOK:      "✅",
	KindFail:    "❌",
	KindTrailer: "🎬",
	KindImage:   "🖼",
	KindBypass:  "🛡",
	KindCache:   "📦",
}

// LookupEvent is one progress signal during a lookup.
type LookupEvent struct {
	LookupID  string        `json:"lookup_id"`
	Number    string        `json:"number"`
	Site      types.Website `json:"site,omitempty"`
	Kind      Kind          `json:"kind"`
	Message   string        `json:"message"`
	URL       string        `json:"url,omitempty"`
	Err       string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// String renders the event as an emoji-prefixed line.
func (e *LookupEvent) String() string {
	prefix := kindEmoji[e.Kind]
	if prefix == "" {
		prefix = "•"
	}
	if e.Site != "" {
		return fmt.Sprintf("%s [%s] %s", prefix, e.Site, e.Message)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// New builds an event stamped with the current time.
func New(lookupID, number string, site types.Website, kind Kind, format string, args ...interface{}) *LookupEvent {
	return &LookupEvent{
		LookupID:  lookupID,
		Number:    number,
		Site:      site,
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: time.Now().UTC(),
	}
}
