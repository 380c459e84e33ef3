package alttext

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/prompts"
)

// Catalog is the asset store as seen by the Service.
type Catalog interface {
	AssetStore
	Sites(ctx context.Context) ([]assets.Site, error)
	ListImageIDs(ctx context.Context, opts assets.ListOptions) ([]int64, error)
	Rename(ctx context.Context, a *assets.Asset, filename string) error
}

// Settings are the generation switches.
type Settings struct {
	PreSaveEmptyFirst     bool `json:"pre_save_empty_first" yaml:"pre_save_empty_first"`
	PropagateToAllSites   bool `json:"propagate_to_all_sites" yaml:"propagate_to_all_sites"`
	SaveTranslatedPerSite bool `json:"save_translated_per_site" yaml:"save_translated_per_site"`
	GenerateOnAssetCreate bool `json:"generate_on_asset_create" yaml:"generate_on_asset_create"`
}

// Service ties planning, inline generation and the job queue together.
type Service struct {
	catalog   Catalog
	queue     jobs.Queue
	describer *Describer
	planner   *Planner
	settings  Settings
	logger    zerolog.Logger
}

// ErrUnknownSite is returned when a request names a site that does not exist.
var ErrUnknownSite = errors.New("unknown site")

// NewService creates a Service.
func NewService(catalog Catalog, queue jobs.Queue, describer *Describer, planner *Planner, settings Settings, logger zerolog.Logger) *Service {
	return &Service{
		catalog:   catalog,
		queue:     queue,
		describer: describer,
		planner:   planner,
		settings:  settings,
		logger:    logger.With().Str("component", "alttext").Logger(),
	}
}

// GenerateRequest asks for alt text for one asset. SiteID 0 means the
// primary site.
type GenerateRequest struct {
	AssetID int64 `json:"asset_id"`
	SiteID  int64 `json:"site_id"`
	Force   bool  `json:"force"`
	Inline  bool  `json:"inline"`
}

// ItemOutcome is the result of one work item. Inline items carry AltText or
// Err; deferred items carry JobID or Err.
type ItemOutcome struct {
	WorkItem
	AltText   string    `json:"alt_text,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Err       error     `json:"-"`
}

func (o *ItemOutcome) fail(err error) {
	o.Err = err
	o.Error = err.Error()
	var derr *DescribeError
	if errors.As(err, &derr) {
		o.ErrorKind = derr.Kind
	}
}

// Outcome reports what happened to a request.
type Outcome struct {
	Notice Notice        `json:"notice,omitempty"`
	Items  []ItemOutcome `json:"items"`
}

// Failed returns the number of items that failed.
func (o *Outcome) Failed() int {
	n := 0
	for _, item := range o.Items {
		if item.Err != nil {
			n++
		}
	}
	return n
}

// RequestGeneration plans and runs generation for one asset. Item failures
// are reported per item in the Outcome; the returned error covers only
// failures before planning finished.
func (s *Service) RequestGeneration(ctx context.Context, req GenerateRequest) (*Outcome, error) {
	sites, err := s.catalog.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	siteID, err := ResolveSite(sites, req.SiteID)
	if err != nil {
		return nil, err
	}
	a, err := s.catalog.Get(ctx, req.AssetID, siteID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, a, sites, PlanOptions{
		PropagateToAllSites:   s.settings.PropagateToAllSites,
		SaveTranslatedPerSite: s.settings.SaveTranslatedPerSite,
		ForceRegeneration:     req.Force,
		RunCurrentSiteInline:  req.Inline,
	})
}

// OnAssetCreated queues generation for a new asset when enabled. It returns
// nil, nil when generation on create is switched off.
func (s *Service) OnAssetCreated(ctx context.Context, a *assets.Asset) (*Outcome, error) {
	if !s.settings.GenerateOnAssetCreate {
		return nil, nil
	}
	sites, err := s.catalog.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return s.run(ctx, a, sites, PlanOptions{
		PropagateToAllSites:   s.settings.PropagateToAllSites,
		SaveTranslatedPerSite: s.settings.SaveTranslatedPerSite,
	})
}

func (s *Service) run(ctx context.Context, a *assets.Asset, sites []assets.Site, opts PlanOptions) (*Outcome, error) {
	plan, err := s.planner.Plan(ctx, a, opts, s.queue, sites)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Notice: plan.Notice, Items: make([]ItemOutcome, 0, len(plan.Items))}
	for _, item := range plan.Items {
		res := ItemOutcome{WorkItem: item}
		switch item.Mode {
		case ModeInline:
			site, _ := assets.FindSite(sites, item.SiteID)
			text, err := s.describer.Describe(ctx, a, &site, s.describeOptions(item.ForceRegeneration))
			if err != nil {
				res.fail(err)
			} else {
				res.AltText = text
			}
		default:
			job, err := s.queue.Enqueue(ctx, item.Description, jobs.Payload{
				AssetID:           item.AssetID,
				SiteID:            item.SiteID,
				ForceRegeneration: item.ForceRegeneration,
			})
			if err != nil {
				res.fail(fmt.Errorf("failed to enqueue: %w", err))
			} else {
				res.JobID = job.ID
			}
		}
		out.Items = append(out.Items, res)
	}
	return out, nil
}

// Execute runs a queued job's payload.
func (s *Service) Execute(ctx context.Context, p jobs.Payload) (string, error) {
	a, err := s.catalog.Get(ctx, p.AssetID, p.SiteID)
	if err != nil {
		return "", err
	}
	sites, err := s.catalog.Sites(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list sites: %w", err)
	}
	site, _ := assets.FindSite(sites, p.SiteID)
	return s.describer.Describe(ctx, a, &site, s.describeOptions(p.ForceRegeneration))
}

func (s *Service) describeOptions(force bool) DescribeOptions {
	return DescribeOptions{
		ForceRegeneration:     force,
		PreSaveEmptyFirst:     s.settings.PreSaveEmptyFirst,
		PropagateToAllSites:   s.settings.PropagateToAllSites,
		SaveTranslatedPerSite: s.settings.SaveTranslatedPerSite,
	}
}

// BatchOptions select assets for EnqueueBatch. SiteID 0 means every site.
type BatchOptions struct {
	SiteID      int64
	MissingOnly bool
	Force       bool
	BatchSize   int
}

// BatchResult counts what EnqueueBatch did.
type BatchResult struct {
	Assets     int `json:"assets"`
	Queued     int `json:"queued"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

const defaultBatchSize = 100

// EnqueueBatch queues generation for every image in a site, or only for
// images without alt text. Without a site every site is processed in order;
// an asset counts once per site it is listed for.
func (s *Service) EnqueueBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	var result BatchResult
	sites, err := s.catalog.Sites(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list sites: %w", err)
	}
	if len(sites) == 0 {
		return result, errors.New("no sites configured")
	}

	targets := make([]assets.Site, len(sites))
	copy(targets, sites)
	assets.SortSites(targets)
	if opts.SiteID != 0 {
		site, ok := assets.FindSite(sites, opts.SiteID)
		if !ok {
			return result, fmt.Errorf("site %d does not exist: %w", opts.SiteID, ErrUnknownSite)
		}
		targets = []assets.Site{site}
	}

	size := opts.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	for _, site := range targets {
		if err := s.enqueueSite(ctx, site.ID, opts, size, &result); err != nil {
			return result, err
		}
	}

	s.logger.Info().
		Int("assets", result.Assets).
		Int("queued", result.Queued).
		Int("duplicates", result.Duplicates).
		Int("failed", result.Failed).
		Msg("batch queued")
	return result, nil
}

func (s *Service) enqueueSite(ctx context.Context, siteID int64, opts BatchOptions, size int, result *BatchResult) error {
	var lastID int64
	for {
		ids, err := s.catalog.ListImageIDs(ctx, assets.ListOptions{
			SiteID:      siteID,
			MissingOnly: opts.MissingOnly,
			AfterID:     lastID,
			Limit:       size,
		})
		if err != nil {
			return err
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Assets++
			out, err := s.RequestGeneration(ctx, GenerateRequest{AssetID: id, SiteID: siteID, Force: opts.Force})
			if err != nil {
				s.logger.Warn().Err(err).Int64("asset_id", id).Int64("site_id", siteID).Msg("failed to plan asset")
				result.Failed++
				continue
			}
			if out.Notice == NoticeDuplicateInProgress {
				result.Duplicates++
			}
			result.Failed += out.Failed()
			result.Queued += len(out.Items) - out.Failed()
		}
		if len(ids) < size {
			return nil
		}
		lastID = ids[len(ids)-1]
	}
}

// GenerateTitle generates a title and stores it when apply is set.
func (s *Service) GenerateTitle(ctx context.Context, assetID, siteID int64, apply bool) (string, error) {
	a, site, err := s.load(ctx, assetID, siteID)
	if err != nil {
		return "", err
	}
	title, err := s.describer.Generate(ctx, a, site, prompts.KindTitle)
	if err != nil {
		return "", err
	}
	if apply {
		a.Title = title
		if err := s.catalog.Save(ctx, a, assets.SaveOptions{}); err != nil {
			return "", newError(KindPersistFailed, err, "")
		}
	}
	return title, nil
}

// GenerateFilename generates a filename, keeping the asset's extension, and
// renames the file when apply is set.
func (s *Service) GenerateFilename(ctx context.Context, assetID, siteID int64, apply bool) (string, error) {
	a, site, err := s.load(ctx, assetID, siteID)
	if err != nil {
		return "", err
	}
	raw, err := s.describer.Generate(ctx, a, site, prompts.KindFilename)
	if err != nil {
		return "", err
	}
	stem := CleanFilename(raw)
	if stem == "" {
		return "", fmt.Errorf("model output %q has no usable filename characters", raw)
	}
	filename := stem
	if ext := a.Extension(); ext != "" {
		filename += "." + ext
	}
	if apply {
		if err := s.catalog.Rename(ctx, a, filename); err != nil {
			return "", newError(KindPersistFailed, err, "")
		}
		filename = a.Filename
	}
	return filename, nil
}

func (s *Service) load(ctx context.Context, assetID, siteID int64) (*assets.Asset, *assets.Site, error) {
	sites, err := s.catalog.Sites(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sites: %w", err)
	}
	if siteID, err = ResolveSite(sites, siteID); err != nil {
		return nil, nil, err
	}
	a, err := s.catalog.Get(ctx, assetID, siteID)
	if err != nil {
		return nil, nil, err
	}
	site, _ := assets.FindSite(sites, siteID)
	return a, &site, nil
}

// ResolveSite returns siteID if it exists, or the primary site for 0.
func ResolveSite(sites []assets.Site, siteID int64) (int64, error) {
	if len(sites) == 0 {
		return 0, errors.New("no sites configured")
	}
	if siteID != 0 {
		if _, ok := assets.FindSite(sites, siteID); !ok {
			return 0, fmt.Errorf("site %d does not exist: %w", siteID, ErrUnknownSite)
		}
		return siteID, nil
	}
	ordered := make([]assets.Site, len(sites))
	copy(ordered, sites)
	assets.SortSites(ordered)
	for _, s := range ordered {
		if s.Primary {
			return s.ID, nil
		}
	}
	return ordered[0].ID, nil
}
