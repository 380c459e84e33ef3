package alttext

import (
	"fmt"
	"regexp"
	"strconv"
)

// The description of a queued job is the only key the duplicate check has,
// so FormatDescription and ParseDescription must stay in step.
var descriptionRe = regexp.MustCompile(`\(Asset: (\d+), Site: (\d+)\)`)

// FormatDescription returns the job description for an asset and site.
func FormatDescription(filename string, assetID, siteID int64) string {
	return fmt.Sprintf("Generating alt text for %s (Asset: %d, Site: %d)", filename, assetID, siteID)
}

// ParseDescription extracts the asset and site ids from a job description.
// The last match wins so a filename that happens to contain the pattern does
// not shadow the real ids.
func ParseDescription(desc string) (assetID, siteID int64, ok bool) {
	matches := descriptionRe.FindAllStringSubmatch(desc, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	m := matches[len(matches)-1]
	assetID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	siteID, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return assetID, siteID, true
}

type workKey struct {
	assetID int64
	siteID  int64
}

// WorkIndex is a point-in-time snapshot of queued work. It can be stale by
// the time it is consulted.
type WorkIndex struct {
	pending map[workKey]struct{}
}

// NewWorkIndex builds an index from job descriptions. Descriptions that do
// not carry ids are ignored.
func NewWorkIndex(descriptions []string) *WorkIndex {
	idx := &WorkIndex{pending: make(map[workKey]struct{}, len(descriptions))}
	for _, d := range descriptions {
		if assetID, siteID, ok := ParseDescription(d); ok {
			idx.pending[workKey{assetID, siteID}] = struct{}{}
		}
	}
	return idx
}

// Pending reports whether work for the pair was queued when the index was built.
func (w *WorkIndex) Pending(assetID, siteID int64) bool {
	if w == nil {
		return false
	}
	_, ok := w.pending[workKey{assetID, siteID}]
	return ok
}

// Len returns the number of distinct pairs in the index.
func (w *WorkIndex) Len() int {
	if w == nil {
		return 0
	}
	return len(w.pending)
}
