package alttext

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/metrics"
)

// Mode says where a work item runs.
type Mode string

const (
	ModeInline   Mode = "inline"
	ModeDeferred Mode = "deferred"
)

// Notice explains why a plan is empty. It is informational and never an error.
type Notice string

const (
	NoticeNone                Notice = ""
	NoticeNotAnImage          Notice = "not_an_image"
	NoticeDuplicateInProgress Notice = "duplicate_in_progress"
)

// WorkItem is one (asset, site) generation to run now or queue.
type WorkItem struct {
	AssetID           int64  `json:"asset_id"`
	SiteID            int64  `json:"site_id"`
	Mode              Mode   `json:"mode"`
	ForceRegeneration bool   `json:"force_regeneration"`
	Description       string `json:"description"`
}

// PlanOptions configure a single Plan call.
type PlanOptions struct {
	PropagateToAllSites   bool
	SaveTranslatedPerSite bool
	ForceRegeneration     bool
	RunCurrentSiteInline  bool
}

// Plan is the planner's output. Items is empty whenever Notice is set.
type Plan struct {
	Items  []WorkItem `json:"items"`
	Notice Notice     `json:"notice,omitempty"`
}

// WorkIndexSource lists the descriptions of queued jobs.
type WorkIndexSource interface {
	PendingDescriptions(ctx context.Context) ([]string, error)
}

// Planner decides which (asset, site) pairs to generate and how.
//
// The duplicate check reads the queue and then the caller enqueues; nothing
// holds the queue in between. Two planners racing on the same pair can both
// see it as free and both queue it. The queue offers no lock to close that
// window, so the check is best effort and a duplicate job simply regenerates
// the same text.
type Planner struct {
	logger zerolog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(logger zerolog.Logger) *Planner {
	return &Planner{logger: logger.With().Str("component", "planner").Logger()}
}

// Plan computes the work items for asset a in its current site. sites is the
// full site list and is used for translated fan-out.
func (p *Planner) Plan(ctx context.Context, a *assets.Asset, opts PlanOptions, index WorkIndexSource, sites []assets.Site) (Plan, error) {
	if a == nil || !a.IsImage() {
		metrics.PlanNoticesTotal.WithLabelValues(string(NoticeNotAnImage)).Inc()
		return Plan{Notice: NoticeNotAnImage}, nil
	}

	if !opts.ForceRegeneration && index != nil {
		descs, err := index.PendingDescriptions(ctx)
		if err != nil {
			return Plan{}, fmt.Errorf("failed to read queued work: %w", err)
		}
		if NewWorkIndex(descs).Pending(a.ID, a.SiteID) {
			p.logger.Info().Int64("asset_id", a.ID).Int64("site_id", a.SiteID).Msg("alt text generation already queued")
			metrics.PlanNoticesTotal.WithLabelValues(string(NoticeDuplicateInProgress)).Inc()
			return Plan{Notice: NoticeDuplicateInProgress}, nil
		}
	}

	primary := WorkItem{
		AssetID:           a.ID,
		SiteID:            a.SiteID,
		Mode:              ModeDeferred,
		ForceRegeneration: opts.ForceRegeneration,
		Description:       FormatDescription(a.Filename, a.ID, a.SiteID),
	}
	if opts.RunCurrentSiteInline {
		primary.Mode = ModeInline
	}
	plan := Plan{Items: []WorkItem{primary}}

	// Without per-site translation, propagation is the store's job on save.
	if opts.SaveTranslatedPerSite {
		ordered := make([]assets.Site, len(sites))
		copy(ordered, sites)
		assets.SortSites(ordered)
		for _, s := range ordered {
			if s.ID == a.SiteID {
				continue
			}
			plan.Items = append(plan.Items, WorkItem{
				AssetID:           a.ID,
				SiteID:            s.ID,
				Mode:              ModeDeferred,
				ForceRegeneration: opts.ForceRegeneration,
				Description:       FormatDescription(a.Filename, a.ID, s.ID),
			})
		}
	}

	for _, item := range plan.Items {
		metrics.PlannedItemsTotal.WithLabelValues(string(item.Mode)).Inc()
	}
	return plan, nil
}
