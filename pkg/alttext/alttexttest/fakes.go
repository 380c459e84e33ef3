// Package alttexttest provides in-memory fakes for testing code built on the
// alttext package.
package alttexttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/storage"
	"github.com/soypete/alttext/pkg/vision"
)

// Catalog is an in-memory asset store. Alt text and titles are kept per site.
type Catalog struct {
	mu        sync.Mutex
	SiteList  []assets.Site
	assets    map[int64]assets.Asset
	alt       map[[2]int64]string
	titles    map[[2]int64]string
	contents  map[int64][]byte
	Saves     []SaveCall
	SaveErr   error
	ReadErr   error
	RenameErr error
}

// SaveCall records one Save.
type SaveCall struct {
	AssetID int64
	SiteID  int64
	Alt     string
	Opts    assets.SaveOptions
}

// NewCatalog creates a catalog with the given sites.
func NewCatalog(sites ...assets.Site) *Catalog {
	return &Catalog{
		SiteList: sites,
		assets:   make(map[int64]assets.Asset),
		alt:      make(map[[2]int64]string),
		titles:   make(map[[2]int64]string),
		contents: make(map[int64][]byte),
	}
}

// Add stores an asset and its file contents. a.Alt and a.Title are applied
// to every site.
func (c *Catalog) Add(a assets.Asset, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets[a.ID] = a
	c.contents[a.ID] = data
	for _, s := range c.SiteList {
		c.alt[[2]int64{a.ID, s.ID}] = a.Alt
		c.titles[[2]int64{a.ID, s.ID}] = a.Title
	}
}

// SetAlt overrides the alt text of an asset in one site.
func (c *Catalog) SetAlt(assetID, siteID int64, alt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alt[[2]int64{assetID, siteID}] = alt
}

// Alt returns the stored alt text of an asset in a site.
func (c *Catalog) Alt(assetID, siteID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alt[[2]int64{assetID, siteID}]
}

// Title returns the stored title of an asset in a site.
func (c *Catalog) Title(assetID, siteID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles[[2]int64{assetID, siteID}]
}

// Filename returns the stored filename of an asset.
func (c *Catalog) Filename(assetID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assets[assetID].Filename
}

func (c *Catalog) Get(ctx context.Context, id, siteID int64) (*assets.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %d: %w", id, storage.ErrNotFound)
	}
	a.SiteID = siteID
	a.Alt = c.alt[[2]int64{id, siteID}]
	a.Title = c.titles[[2]int64{id, siteID}]
	return &a, nil
}

func (c *Catalog) Save(ctx context.Context, a *assets.Asset, opts assets.SaveOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Saves = append(c.Saves, SaveCall{AssetID: a.ID, SiteID: a.SiteID, Alt: a.Alt, Opts: opts})
	if c.SaveErr != nil {
		return c.SaveErr
	}
	c.alt[[2]int64{a.ID, a.SiteID}] = a.Alt
	c.titles[[2]int64{a.ID, a.SiteID}] = a.Title
	if opts.PropagateToAllSites {
		for _, s := range c.SiteList {
			c.alt[[2]int64{a.ID, s.ID}] = a.Alt
		}
	}
	return nil
}

func (c *Catalog) Contents(ctx context.Context, a *assets.Asset) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	return c.contents[a.ID], nil
}

func (c *Catalog) Sites(ctx context.Context) ([]assets.Site, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assets.Site, len(c.SiteList))
	copy(out, c.SiteList)
	return out, nil
}

func (c *Catalog) ListImageIDs(ctx context.Context, opts assets.ListOptions) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for id, a := range c.assets {
		if !a.IsImage() {
			continue
		}
		if id <= opts.AfterID {
			continue
		}
		if opts.MissingOnly && c.alt[[2]int64{id, opts.SiteID}] != "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	return ids, nil
}

func (c *Catalog) Rename(ctx context.Context, a *assets.Asset, filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RenameErr != nil {
		return c.RenameErr
	}
	stored := c.assets[a.ID]
	stored.Filename = filename
	c.assets[a.ID] = stored
	a.Filename = filename
	return nil
}

// Generator returns a fixed result and records requests.
type Generator struct {
	mu       sync.Mutex
	Result   vision.Result
	Requests []vision.Request
}

// NewGenerator returns a generator that always succeeds with text.
func NewGenerator(text string) *Generator {
	return &Generator{Result: vision.Success(text)}
}

func (g *Generator) Generate(ctx context.Context, req vision.Request) vision.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	return g.Result
}

// Calls returns the number of Generate calls.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// Last returns the most recent request.
func (g *Generator) Last() vision.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return vision.Request{}
	}
	return g.Requests[len(g.Requests)-1]
}

// Prober answers Reachable with a fixed value.
type Prober struct {
	mu    sync.Mutex
	OK    bool
	Calls int
}

func (p *Prober) Reachable(ctx context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	return p.OK
}

// Queue is an in-memory jobs.Queue that counts index reads.
type Queue struct {
	mu         sync.Mutex
	Jobs       []*jobs.Job
	IndexCalls int
	IndexErr   error
	EnqueueErr error
}

func (q *Queue) Enqueue(ctx context.Context, description string, payload jobs.Payload) (*jobs.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return nil, q.EnqueueErr
	}
	job := &jobs.Job{
		ID:          fmt.Sprintf("job-%d", len(q.Jobs)+1),
		Type:        jobs.TypeAltText,
		Status:      jobs.StatusPending,
		Description: description,
		Payload:     payload,
	}
	q.Jobs = append(q.Jobs, job)
	return job, nil
}

func (q *Queue) PendingDescriptions(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.IndexCalls++
	if q.IndexErr != nil {
		return nil, q.IndexErr
	}
	var out []string
	for _, j := range q.Jobs {
		if j.Status == jobs.StatusPending || j.Status == jobs.StatusRunning {
			out = append(out, j.Description)
		}
	}
	return out, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Jobs)
}
