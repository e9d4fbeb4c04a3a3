package message

import (
	"iter"
	"regexp"
	"strings"
	"unicode"
)

type SegmentKind string

const (
	PlainText     SegmentKind = "text"
	ReferenceLink SegmentKind = "reference_link"
)

type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Content string      `json:"content,omitempty"`
	Label   string      `json:"label,omitempty"`
	URL     string      `json:"url,omitempty"`
}

// ReferenceLabel introduces an embedded reference video in coaching text.
const ReferenceLabel = "Reference Player Video:"

const referenceLinkLabel = "Watch reference video"

var referencePattern = regexp.MustCompile(regexp.QuoteMeta(ReferenceLabel) + `\s*(https://\S+?\.mp4)\b`)

// ParseEmbeddedReference splits body around each "Reference Player Video:
// https://....mp4" occurrence. The label phrase stays in the preceding text
// segment; the URL becomes a ReferenceLink segment. Empty text segments are
// not emitted. The sequence can be ranged over any number of times.
func ParseEmbeddedReference(body string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		rest := body
		for rest != "" {
			loc := referencePattern.FindStringSubmatchIndex(rest)
			if loc == nil {
				yield(Segment{Kind: PlainText, Content: rest})
				return
			}

			urlStart, urlEnd := loc[2], loc[3]
			if text := strings.TrimRightFunc(rest[:urlStart], unicode.IsSpace); text != "" {
				if !yield(Segment{Kind: PlainText, Content: text}) {
					return
				}
			}
			if !yield(Segment{Kind: ReferenceLink, Label: referenceLinkLabel, URL: rest[urlStart:urlEnd]}) {
				return
			}
			rest = rest[urlEnd:]
		}
	}
}
