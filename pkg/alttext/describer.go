// Package alttext generates alt text, titles and filenames for image assets
// with a vision model and decides which (asset, site) pairs need work.
package alttext

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/prompts"
	"github.com/soypete/alttext/pkg/vision"
)

// AssetStore reads and writes assets.
type AssetStore interface {
	Get(ctx context.Context, id, siteID int64) (*assets.Asset, error)
	Save(ctx context.Context, a *assets.Asset, opts assets.SaveOptions) error
	Contents(ctx context.Context, a *assets.Asset) ([]byte, error)
}

// Generator runs one vision request.
type Generator interface {
	Generate(ctx context.Context, req vision.Request) vision.Result
}

// Prober checks whether a URL can be fetched by the vision API.
type Prober interface {
	Reachable(ctx context.Context, url string) bool
}

// Transformer normalizes images the vision API would refuse.
type Transformer interface {
	Plan(info vision.SourceInfo) (vision.Transform, error)
	Apply(data []byte, t vision.Transform) ([]byte, string, error)
}

// PromptRenderer builds the prompt text for an asset and site.
type PromptRenderer interface {
	Render(kind prompts.Kind, asset, site prompts.Resolver) string
}

// Dependencies are the collaborators of a Describer. Prober and Transformer
// are optional: without a Prober the image is always sent inline, without a
// Transformer it is sent as stored.
type Dependencies struct {
	Store       AssetStore
	Generator   Generator
	Prober      Prober
	Transformer Transformer
	Prompts     PromptRenderer
	Logger      zerolog.Logger
}

// DescriberConfig holds request settings.
type DescriberConfig struct {
	Model  string
	Detail vision.Detail
}

// DescribeOptions control one Describe call.
type DescribeOptions struct {
	// ForceRegeneration is informational here; the planner uses it to
	// decide whether to call Describe at all.
	ForceRegeneration     bool
	PreSaveEmptyFirst     bool
	PropagateToAllSites   bool
	SaveTranslatedPerSite bool
}

// Describer generates and stores alt text for a single asset and site. It
// holds no per-call state and is safe for concurrent use.
type Describer struct {
	deps   Dependencies
	cfg    DescriberConfig
	logger zerolog.Logger
}

// NewDescriber creates a Describer.
func NewDescriber(deps Dependencies, cfg DescriberConfig) *Describer {
	if deps.Prompts == nil {
		deps.Prompts = prompts.NewManager(nil)
	}
	return &Describer{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With().Str("component", "describer").Logger(),
	}
}

// Describe generates alt text for a, stores it and returns it. The asset's
// Alt field is updated in place.
func (d *Describer) Describe(ctx context.Context, a *assets.Asset, site *assets.Site, opts DescribeOptions) (string, error) {
	if a == nil || !a.IsImage() {
		return "", ErrNotAnImage
	}
	log := d.logger.With().Int64("asset_id", a.ID).Int64("site_id", a.SiteID).Logger()

	img, err := d.resolveImage(ctx, a)
	if err != nil {
		log.Warn().Err(err).Msg("cannot prepare image")
		return "", err
	}

	if opts.PreSaveEmptyFirst && a.Alt == "" {
		if err := d.deps.Store.Save(ctx, a, assets.SaveOptions{}); err != nil {
			return "", newError(KindPersistFailed, err, "pre-save: "+err.Error())
		}
	}

	text, err := d.generate(ctx, prompts.KindAltText, a, site, img)
	if err != nil {
		log.Warn().Err(err).Msg("alt text generation failed")
		return "", err
	}

	previous := a.Alt
	a.Alt = text
	saveOpts := assets.SaveOptions{
		PropagateToAllSites: opts.PropagateToAllSites && !opts.SaveTranslatedPerSite,
	}
	if err := d.deps.Store.Save(ctx, a, saveOpts); err != nil {
		a.Alt = previous
		log.Error().Err(err).Msg("failed to save alt text")
		return "", newError(KindPersistFailed, err, "")
	}

	log.Info().Str("alt", text).Bool("propagated", saveOpts.PropagateToAllSites).Msg("alt text saved")
	return text, nil
}

// Generate runs a prompt of the given kind against the asset's image without
// storing anything.
func (d *Describer) Generate(ctx context.Context, a *assets.Asset, site *assets.Site, kind prompts.Kind) (string, error) {
	if a == nil || !a.IsImage() {
		return "", ErrNotAnImage
	}
	img, err := d.resolveImage(ctx, a)
	if err != nil {
		return "", err
	}
	return d.generate(ctx, kind, a, site, img)
}

func (d *Describer) generate(ctx context.Context, kind prompts.Kind, a *assets.Asset, site *assets.Site, img vision.Image) (string, error) {
	var siteView prompts.Resolver
	if site != nil {
		siteView = site
	}
	req := vision.Request{
		Model:  d.cfg.Model,
		Prompt: d.deps.Prompts.Render(kind, a, siteView),
		Image:  img,
		Detail: d.cfg.Detail,
	}

	text, err := d.deps.Generator.Generate(ctx, req).Unpack()
	if err != nil {
		var gerr *vision.GenerationError
		if errors.As(err, &gerr) {
			return "", generationError(gerr)
		}
		return "", newError(KindGenerationFailed, err, "")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", generationError(&vision.GenerationError{Kind: vision.ErrorEmptyOutput, Message: "model returned only whitespace"})
	}
	return text, nil
}

// resolveImage returns the image reference to send. A reachable public URL is
// preferred; otherwise the stored bytes are sent inline, transformed when the
// API would refuse them as stored.
func (d *Describer) resolveImage(ctx context.Context, a *assets.Asset) (vision.Image, error) {
	info := vision.SourceInfo{
		MimeType: a.MimeType,
		Width:    a.Width,
		Height:   a.Height,
		Size:     a.Size,
	}

	var transform vision.Transform
	if d.deps.Transformer != nil {
		t, err := d.deps.Transformer.Plan(info)
		if err != nil {
			return vision.Image{}, newError(KindUnsupportedFormat, err, "")
		}
		transform = t
	}

	var data []byte
	if mayAnimate(a.MimeType) {
		var err error
		if data, err = d.read(ctx, a); err != nil {
			return vision.Image{}, err
		}
		if vision.IsAnimated(data) {
			return vision.Image{}, newError(KindUnsupportedAnimated, vision.ErrAnimated, a.Filename)
		}
	}

	if transform.IsZero() && a.URL != "" && d.deps.Prober != nil {
		if d.deps.Prober.Reachable(ctx, a.URL) {
			return vision.Image{URL: a.URL}, nil
		}
		d.logger.Warn().Int64("asset_id", a.ID).Str("url", a.URL).Msg("asset URL is not reachable, sending inline")
	}

	if data == nil {
		var err error
		if data, err = d.read(ctx, a); err != nil {
			return vision.Image{}, err
		}
		if vision.IsAnimated(data) {
			return vision.Image{}, newError(KindUnsupportedAnimated, vision.ErrAnimated, a.Filename)
		}
	}

	mimeType := a.MimeType
	if !transform.IsZero() {
		out, outMime, err := d.deps.Transformer.Apply(data, transform)
		if err != nil {
			d.logger.Warn().Err(err).Int64("asset_id", a.ID).Msg("transform failed, sending source bytes")
		} else {
			data, mimeType = out, outMime
		}
	}
	return vision.Image{Data: data, MimeType: mimeType}, nil
}

func (d *Describer) read(ctx context.Context, a *assets.Asset) ([]byte, error) {
	data, err := d.deps.Store.Contents(ctx, a)
	if err != nil {
		return nil, newError(KindUnreadableSource, err, "")
	}
	if len(data) == 0 {
		return nil, newError(KindUnreadableSource, nil, "asset file is empty")
	}
	return data, nil
}

// mayAnimate reports whether a format can carry frames, so its bytes must be
// inspected before a URL is sent in their place.
func mayAnimate(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/gif", "image/webp", "image/png", "image/apng":
		return true
	}
	return false
}
