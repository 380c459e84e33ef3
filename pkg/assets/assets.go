// Package assets holds the asset library domain model shared by the store,
// the generation core and the transports.
package assets

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the media kind of an asset.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindPDF   Kind = "pdf"
	KindOther Kind = "other"
)

// KindFromMime maps a MIME type to an asset kind.
func KindFromMime(mime string) Kind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case mime == "application/pdf":
		return KindPDF
	default:
		return KindOther
	}
}

// Asset is an image (or other file) managed by the library, scoped to one site.
// Alt is the site-scoped alt text.
type Asset struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title"`
	Kind      Kind      `json:"kind"`
	MimeType  string    `json:"mime_type"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`          // volume-relative path
	URL       string    `json:"url,omitempty"` // public URL, if any
	Alt       string    `json:"alt"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsImage reports whether the asset is an image.
func (a *Asset) IsImage() bool {
	return a != nil && a.Kind == KindImage
}

// Extension returns the lowercase filename extension without the dot.
func (a *Asset) Extension() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Filename), "."))
}

var assetFields = map[string]func(*Asset) string{
	"id":        func(a *Asset) string { return strconv.FormatInt(a.ID, 10) },
	"siteId":    func(a *Asset) string { return strconv.FormatInt(a.SiteID, 10) },
	"filename":  func(a *Asset) string { return a.Filename },
	"title":     func(a *Asset) string { return a.Title },
	"kind":      func(a *Asset) string { return string(a.Kind) },
	"mimeType":  func(a *Asset) string { return a.MimeType },
	"extension": func(a *Asset) string { return a.Extension() },
	"width":     func(a *Asset) string { return strconv.Itoa(a.Width) },
	"height":    func(a *Asset) string { return strconv.Itoa(a.Height) },
	"size":      func(a *Asset) string { return strconv.FormatInt(a.Size, 10) },
	"alt":       func(a *Asset) string { return a.Alt },
	"url":       func(a *Asset) string { return a.URL },
}

// Resolve returns the template value of a named asset field.
func (a *Asset) Resolve(field string) (string, bool) {
	if a == nil {
		return "", false
	}
	fn, ok := assetFields[field]
	if !ok {
		return "", false
	}
	return fn(a), true
}

// Site is a localized variant of the library.
type Site struct {
	ID        int64  `json:"id"`
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	Primary   bool   `json:"primary"`
	SortOrder int    `json:"sort_order"`
}

var siteFields = map[string]func(*Site) string{
	"id":       func(s *Site) string { return strconv.FormatInt(s.ID, 10) },
	"handle":   func(s *Site) string { return s.Handle },
	"name":     func(s *Site) string { return s.Name },
	"language": func(s *Site) string { return s.Language },
}

// Resolve returns the template value of a named site field.
func (s *Site) Resolve(field string) (string, bool) {
	if s == nil {
		return "", false
	}
	fn, ok := siteFields[field]
	if !ok {
		return "", false
	}
	return fn(s), true
}

// SortSites orders sites by sort order, then id. The order is stable across calls.
func SortSites(sites []Site) {
	sort.SliceStable(sites, func(i, j int) bool {
		if sites[i].SortOrder != sites[j].SortOrder {
			return sites[i].SortOrder < sites[j].SortOrder
		}
		return sites[i].ID < sites[j].ID
	})
}

// FindSite returns the site with the given id.
func FindSite(sites []Site, id int64) (Site, bool) {
	for _, s := range sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// SaveOptions controls how an asset save is applied across sites.
type SaveOptions struct {
	// PropagateToAllSites writes the alt text to every site row of the asset.
	PropagateToAllSites bool
}

// ListOptions filters asset listings.
type ListOptions struct {
	SiteID      int64
	MissingOnly bool  // only assets whose alt text is empty for SiteID
	AfterID     int64 // only ids greater than this; pages stay stable while alt text is filled in
	Limit       int
}

// SiteStats summarizes alt text coverage of image assets for one site.
type SiteStats struct {
	SiteID  int64  `json:"site_id"`
	Handle  string `json:"handle"`
	Name    string `json:"name"`
	Total   int    `json:"total"`
	WithAlt int    `json:"with_alt"`
}

// Missing returns the number of images without alt text.
func (s SiteStats) Missing() int {
	return s.Total - s.WithAlt
}

// Coverage returns the share of images with alt text as a percentage.
func (s SiteStats) Coverage() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.WithAlt) / float64(s.Total) * 100
}

// TotalStats sums per-site stats into one row.
func TotalStats(stats []SiteStats) SiteStats {
	total := SiteStats{Handle: "all", Name: "All sites"}
	for _, s := range stats {
		total.Total += s.Total
		total.WithAlt += s.WithAlt
	}
	return total
}
