package alttext

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/alttext/pkg/alttext/alttexttest"
	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/prompts"
	"github.com/soypete/alttext/pkg/vision"
)

const sunsetAlt = "A vivid orange sunset over calm water."

var (
	siteEN = assets.Site{ID: 1, Handle: "en", Name: "English", Language: "en-US", Primary: true, SortOrder: 0}
	siteDE = assets.Site{ID: 2, Handle: "de", Name: "Deutsch", Language: "de-DE", SortOrder: 1}
	siteFR = assets.Site{ID: 3, Handle: "fr", Name: "Français", Language: "fr-FR", SortOrder: 2}
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func sunsetAsset() assets.Asset {
	return assets.Asset{
		ID:       42,
		Filename: "sunset.jpg",
		Title:    "Sunset",
		Kind:     assets.KindImage,
		MimeType: "image/jpeg",
		Width:    1200,
		Height:   700,
		Size:     2048,
		Path:     "sunset.jpg",
	}
}

type describerFixture struct {
	catalog   *alttexttest.Catalog
	generator *alttexttest.Generator
	prober    *alttexttest.Prober
	describer *Describer
}

func newDescriberFixture(t *testing.T, sites ...assets.Site) *describerFixture {
	t.Helper()
	if len(sites) == 0 {
		sites = []assets.Site{siteEN}
	}
	f := &describerFixture{
		catalog:   alttexttest.NewCatalog(sites...),
		generator: alttexttest.NewGenerator(sunsetAlt),
		prober:    &alttexttest.Prober{},
	}
	f.describer = NewDescriber(Dependencies{
		Store:       f.catalog,
		Generator:   f.generator,
		Prober:      f.prober,
		Transformer: vision.NewImageProcessor(nil),
		Prompts:     prompts.NewManager(nil),
		Logger:      zerolog.Nop(),
	}, DescriberConfig{Model: "gpt-4.1-nano", Detail: vision.DetailLow})
	return f
}

func (f *describerFixture) get(t *testing.T, id, siteID int64) *assets.Asset {
	t.Helper()
	a, err := f.catalog.Get(context.Background(), id, siteID)
	require.NoError(t, err)
	return a
}

func TestDescribeSunset(t *testing.T) {
	f := newDescriberFixture(t)
	f.catalog.Add(sunsetAsset(), []byte("jpeg-bytes"))
	a := f.get(t, 42, siteEN.ID)

	text, err := f.describer.Describe(context.Background(), a, &siteEN, DescribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, sunsetAlt, text)
	assert.Equal(t, sunsetAlt, a.Alt)
	assert.Equal(t, sunsetAlt, f.catalog.Alt(42, siteEN.ID))

	req := f.generator.Last()
	assert.Equal(t, "gpt-4.1-nano", req.Model)
	assert.Equal(t, vision.DetailLow, req.Detail)
	assert.Equal(t, "image/jpeg", req.Image.MimeType)
	assert.Equal(t, []byte("jpeg-bytes"), req.Image.Data)
	assert.Contains(t, req.Prompt, "en-US")
}

func TestDescribePrefersReachableURL(t *testing.T) {
	f := newDescriberFixture(t)
	a := sunsetAsset()
	a.URL = "https://cdn.example.com/sunset.jpg"
	f.catalog.Add(a, []byte("jpeg-bytes"))

	f.prober.OK = true
	_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{})
	require.NoError(t, err)
	req := f.generator.Last()
	assert.Equal(t, "https://cdn.example.com/sunset.jpg", req.Image.URL)
	assert.Nil(t, req.Image.Data)

	f.prober.OK = false
	_, err = f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{})
	require.NoError(t, err)
	req = f.generator.Last()
	assert.Empty(t, req.Image.URL)
	assert.Equal(t, "data:image/jpeg;base64,anBlZy1ieXRlcw==", req.Image.Reference())
}

func TestDescribeTransformsOversizedImages(t *testing.T) {
	f := newDescriberFixture(t)
	a := assets.Asset{
		ID: 7, Filename: "panorama.png", Kind: assets.KindImage, MimeType: "image/png",
		Width: 3000, Height: 1000, Size: 4096, URL: "https://cdn.example.com/panorama.png",
	}
	f.catalog.Add(a, encodePNG(t, 3000, 1000))
	f.prober.OK = true

	_, err := f.describer.Describe(context.Background(), f.get(t, 7, 1), &siteEN, DescribeOptions{})
	require.NoError(t, err)

	assert.Zero(t, f.prober.Calls, "the public URL serves the untransformed file")
	req := f.generator.Last()
	require.NotEmpty(t, req.Image.Data)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image.Data))
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Width)
	assert.LessOrEqual(t, cfg.Height, 768)
}

func TestDescribeRejections(t *testing.T) {
	animated := append([]byte("GIF89a"), 0x21, 0xF9, 0x04, 0, 0, 0x21, 0xF9, 0x04, 0, 0)

	tests := []struct {
		name  string
		asset assets.Asset
		data  []byte
		want  error
	}{
		{
			name:  "video",
			asset: assets.Asset{ID: 1, Filename: "clip.mp4", Kind: assets.KindVideo, MimeType: "video/mp4"},
			want:  ErrNotAnImage,
		},
		{
			name:  "animated gif",
			asset: assets.Asset{ID: 2, Filename: "spin.gif", Kind: assets.KindImage, MimeType: "image/gif", Width: 10, Height: 10},
			data:  animated,
			want:  ErrUnsupportedAnimated,
		},
		{
			name:  "svg",
			asset: assets.Asset{ID: 3, Filename: "logo.svg", Kind: assets.KindImage, MimeType: "image/svg+xml"},
			data:  []byte("<svg/>"),
			want:  ErrUnsupportedFormat,
		},
		{
			name:  "empty file",
			asset: assets.Asset{ID: 4, Filename: "empty.png", Kind: assets.KindImage, MimeType: "image/png", Width: 1, Height: 1},
			want:  ErrUnreadableSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDescriberFixture(t)
			f.catalog.Add(tt.asset, tt.data)

			_, err := f.describer.Describe(context.Background(), f.get(t, tt.asset.ID, 1), &siteEN, DescribeOptions{PreSaveEmptyFirst: true})
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.generator.Calls())
			assert.Empty(t, f.catalog.Saves, "validation failures have no side effects")
		})
	}
}

func TestDescribeRejectsAnimatedPNGBehindURL(t *testing.T) {
	spin := assets.Asset{
		ID: 5, Filename: "spin.png", Kind: assets.KindImage, MimeType: "image/png",
		Width: 64, Height: 64, Size: 128, URL: "https://cdn.example.com/spin.png",
	}
	apng := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x08acTL\x00\x00\x00\x02\x00\x00\x00\x00IDAT")

	for _, reachable := range []bool{true, false} {
		f := newDescriberFixture(t)
		f.catalog.Add(spin, apng)
		f.prober.OK = reachable

		_, err := f.describer.Describe(context.Background(), f.get(t, spin.ID, 1), &siteEN, DescribeOptions{})
		assert.ErrorIs(t, err, ErrUnsupportedAnimated, "reachable=%v", reachable)
		assert.Zero(t, f.generator.Calls(), "reachable=%v", reachable)
		assert.Zero(t, f.prober.Calls, "animated sources are rejected before the URL check")
	}
}

func TestDescribeUnreadableSource(t *testing.T) {
	f := newDescriberFixture(t)
	f.catalog.Add(sunsetAsset(), []byte("x"))
	f.catalog.ReadErr = errors.New("disk on fire")

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{})
	require.ErrorIs(t, err, ErrUnreadableSource)
	var derr *DescribeError
	require.True(t, errors.As(err, &derr))
	assert.False(t, derr.Retryable())
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestDescribeGenerationFailures(t *testing.T) {
	tests := []struct {
		kind      vision.ErrorKind
		retryable bool
	}{
		{vision.ErrorTransport, true},
		{vision.ErrorVendorRejected, false},
		{vision.ErrorMalformedResponse, false},
		{vision.ErrorEmptyOutput, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newDescriberFixture(t)
			f.catalog.Add(sunsetAsset(), []byte("x"))
			f.generator.Result = vision.Failure(tt.kind, "boom")

			_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{})
			require.ErrorIs(t, err, ErrGenerationFailed)
			assert.False(t, errors.Is(err, ErrPersistFailed))

			var derr *DescribeError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.kind, derr.Generation)
			assert.Equal(t, "boom", derr.Message)
			assert.Equal(t, tt.retryable, derr.Retryable())
			assert.Empty(t, f.catalog.Alt(42, 1))
		})
	}
}

func TestDescribeWhitespaceOutputIsEmpty(t *testing.T) {
	f := newDescriberFixture(t)
	f.catalog.Add(sunsetAsset(), []byte("x"))
	f.generator.Result = vision.Success("  \n ")

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{})
	assert.ErrorIs(t, err, &DescribeError{Kind: KindGenerationFailed, Generation: vision.ErrorEmptyOutput})
}

func TestDescribePersistFailed(t *testing.T) {
	f := newDescriberFixture(t)
	f.catalog.Add(sunsetAsset(), []byte("x"))
	f.catalog.SaveErr = errors.New("deadlock detected")

	a := f.get(t, 42, 1)
	_, err := f.describer.Describe(context.Background(), a, &siteEN, DescribeOptions{})
	require.ErrorIs(t, err, ErrPersistFailed)
	assert.False(t, errors.Is(err, ErrGenerationFailed))
	assert.Empty(t, a.Alt, "in-memory alt is restored when the save fails")

	var derr *DescribeError
	require.True(t, errors.As(err, &derr))
	assert.True(t, derr.Retryable())
}

func TestDescribePreSaveEmptyFirst(t *testing.T) {
	f := newDescriberFixture(t, siteEN, siteDE)
	f.catalog.Add(sunsetAsset(), []byte("x"))

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN,
		DescribeOptions{PreSaveEmptyFirst: true, PropagateToAllSites: true})
	require.NoError(t, err)

	require.Len(t, f.catalog.Saves, 2)
	assert.Equal(t, "", f.catalog.Saves[0].Alt)
	assert.False(t, f.catalog.Saves[0].Opts.PropagateToAllSites)
	assert.Equal(t, sunsetAlt, f.catalog.Saves[1].Alt)
	assert.True(t, f.catalog.Saves[1].Opts.PropagateToAllSites)
	assert.Equal(t, sunsetAlt, f.catalog.Alt(42, siteDE.ID))
}

func TestDescribePreSaveSkippedWhenAltExists(t *testing.T) {
	f := newDescriberFixture(t)
	a := sunsetAsset()
	a.Alt = "Old text"
	f.catalog.Add(a, []byte("x"))

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, 1), &siteEN, DescribeOptions{PreSaveEmptyFirst: true})
	require.NoError(t, err)
	require.Len(t, f.catalog.Saves, 1)
	assert.Equal(t, sunsetAlt, f.catalog.Saves[0].Alt)
}

func TestDescribeTranslatedDoesNotPropagate(t *testing.T) {
	f := newDescriberFixture(t, siteEN, siteDE)
	f.catalog.Add(sunsetAsset(), []byte("x"))

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, siteDE.ID), &siteDE,
		DescribeOptions{PropagateToAllSites: true, SaveTranslatedPerSite: true})
	require.NoError(t, err)

	require.Len(t, f.catalog.Saves, 1)
	assert.False(t, f.catalog.Saves[0].Opts.PropagateToAllSites)
	assert.Equal(t, sunsetAlt, f.catalog.Alt(42, siteDE.ID))
	assert.Empty(t, f.catalog.Alt(42, siteEN.ID))
	assert.Contains(t, f.generator.Last().Prompt, "de-DE")
}

func TestDescribeUsesConfiguredPrompt(t *testing.T) {
	f := newDescriberFixture(t, siteDE)
	f.describer = NewDescriber(Dependencies{
		Store:     f.catalog,
		Generator: f.generator,
		Prompts: prompts.NewManager(map[prompts.Kind]string{
			prompts.KindAltText: "Describe {asset.filename} ({asset.width}x{asset.height}) in {site.language}.",
		}),
		Logger: zerolog.Nop(),
	}, DescriberConfig{})
	f.catalog.Add(sunsetAsset(), []byte("x"))

	_, err := f.describer.Describe(context.Background(), f.get(t, 42, siteDE.ID), &siteDE, DescribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Describe sunset.jpg (1200x700) in de-DE.", f.generator.Last().Prompt)
}

func TestGenerateDoesNotPersist(t *testing.T) {
	f := newDescriberFixture(t)
	f.catalog.Add(sunsetAsset(), []byte("x"))
	f.generator.Result = vision.Success("Sunset Over Water")

	title, err := f.describer.Generate(context.Background(), f.get(t, 42, 1), &siteEN, prompts.KindTitle)
	require.NoError(t, err)
	assert.Equal(t, "Sunset Over Water", title)
	assert.Empty(t, f.catalog.Saves)
}

func TestDescribeErrorString(t *testing.T) {
	err := generationError(&vision.GenerationError{Kind: vision.ErrorVendorRejected, Message: "invalid image"})
	assert.Equal(t, "generation_failed (vendor_rejected): invalid image", err.Error())
	assert.True(t, errors.Is(err, ErrGenerationFailed))
	assert.True(t, errors.Is(err, &DescribeError{Kind: KindGenerationFailed, Generation: vision.ErrorVendorRejected}))
	assert.False(t, errors.Is(err, &DescribeError{Kind: KindGenerationFailed, Generation: vision.ErrorTransport}))
}
