package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromMime(t *testing.T) {
	tests := []struct {
		mime string
		want Kind
	}{
		{"image/png", KindImage},
		{"IMAGE/JPEG", KindImage},
		{"image/svg+xml", KindImage},
		{"video/mp4", KindVideo},
		{"audio/mpeg", KindAudio},
		{"application/pdf", KindPDF},
		{"application/zip", KindOther},
		{"", KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, KindFromMime(tt.mime))
		})
	}
}

func TestAssetResolve(t *testing.T) {
	a := &Asset{ID: 42, SiteID: 1, Filename: "Sunset.JPG", Title: "Sunset", Width: 1200, Height: 800}

	v, ok := a.Resolve("title")
	assert.True(t, ok)
	assert.Equal(t, "Sunset", v)

	v, ok = a.Resolve("id")
	assert.True(t, ok)
	assert.Equal(t, "42", v)

	v, _ = a.Resolve("extension")
	assert.Equal(t, "jpg", v)

	_, ok = a.Resolve("password")
	assert.False(t, ok)

	var nilAsset *Asset
	_, ok = nilAsset.Resolve("title")
	assert.False(t, ok)
}

func TestSiteResolve(t *testing.T) {
	s := &Site{ID: 2, Handle: "de", Name: "Deutsch", Language: "de-DE"}

	v, ok := s.Resolve("language")
	assert.True(t, ok)
	assert.Equal(t, "de-DE", v)

	_, ok = s.Resolve("unknown")
	assert.False(t, ok)
}

func TestSortSites(t *testing.T) {
	sites := []Site{
		{ID: 3, SortOrder: 2},
		{ID: 2, SortOrder: 1},
		{ID: 1, SortOrder: 2},
	}
	SortSites(sites)
	assert.Equal(t, []int64{2, 1, 3}, []int64{sites[0].ID, sites[1].ID, sites[2].ID})

	s, ok := FindSite(sites, 3)
	assert.True(t, ok)
	assert.Equal(t, int64(3), s.ID)
	_, ok = FindSite(sites, 99)
	assert.False(t, ok)
}

func TestSiteStats(t *testing.T) {
	stats := []SiteStats{
		{SiteID: 1, Total: 10, WithAlt: 4},
		{SiteID: 2, Total: 0, WithAlt: 0},
		{SiteID: 3, Total: 6, WithAlt: 6},
	}
	assert.Equal(t, 6, stats[0].Missing())
	assert.InDelta(t, 40.0, stats[0].Coverage(), 0.001)
	assert.Equal(t, 0.0, stats[1].Coverage())

	total := TotalStats(stats)
	assert.Equal(t, 16, total.Total)
	assert.Equal(t, 10, total.WithAlt)
	assert.Equal(t, 6, total.Missing())
	assert.InDelta(t, 62.5, total.Coverage(), 0.001)
}
