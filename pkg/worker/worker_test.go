package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/alttext/alttexttest"
	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/metrics"
	"github.com/soypete/alttext/pkg/prompts"
	"github.com/soypete/alttext/pkg/storage"
	"github.com/soypete/alttext/pkg/vision"
)

const model = "gpt-4.1-nano"

var (
	siteEN = assets.Site{ID: 1, Handle: "en", Name: "English", Language: "en-US", Primary: true}
	siteDE = assets.Site{ID: 2, Handle: "de", Name: "Deutsch", Language: "de-DE", SortOrder: 1}
)

type fixture struct {
	queue     *jobs.FileManager
	catalog   *alttexttest.Catalog
	generator *alttexttest.Generator
	service   *alttext.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	queue, err := jobs.NewFileManager(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		queue:     queue,
		catalog:   alttexttest.NewCatalog(siteEN, siteDE),
		generator: alttexttest.NewGenerator("A red bicycle leaning on a brick wall."),
	}
	describer := alttext.NewDescriber(alttext.Dependencies{
		Store:       f.catalog,
		Generator:   f.generator,
		Prober:      &alttexttest.Prober{},
		Transformer: vision.NewImageProcessor(nil),
		Prompts:     prompts.NewManager(nil),
		Logger:      zerolog.Nop(),
	}, alttext.DescriberConfig{Model: model, Detail: vision.DetailLow})
	f.service = alttext.NewService(f.catalog, queue, describer, alttext.NewPlanner(zerolog.Nop()), alttext.Settings{}, zerolog.Nop())

	for id := int64(1); id <= 3; id++ {
		f.catalog.Add(assets.Asset{
			ID:       id,
			Filename: fmt.Sprintf("bike-%d.jpg", id),
			Kind:     assets.KindImage,
			MimeType: "image/jpeg",
			Width:    800,
			Height:   600,
			Size:     1024,
			Path:     fmt.Sprintf("bike-%d.jpg", id),
		}, []byte("jpeg"))
	}
	return f
}

func (f *fixture) enqueue(t *testing.T, assetID, siteID int64) *jobs.Job {
	t.Helper()
	job, err := f.queue.Enqueue(context.Background(),
		alttext.FormatDescription(fmt.Sprintf("bike-%d.jpg", assetID), assetID, siteID),
		jobs.Payload{AssetID: assetID, SiteID: siteID})
	require.NoError(t, err)
	return job
}

func (f *fixture) get(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestRunOnceCompletesJobs(t *testing.T) {
	f := newFixture(t)
	queued := []*jobs.Job{
		f.enqueue(t, 1, siteEN.ID),
		f.enqueue(t, 2, siteEN.ID),
		f.enqueue(t, 3, siteDE.ID),
	}
	before := testutil.ToFloat64(metrics.JobsProcessedTotal.WithLabelValues("completed"))

	w := New(f.queue, f.service, Config{Concurrency: 2, Model: model}, zerolog.Nop())
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, q := range queued {
		job := f.get(t, q.ID)
		assert.Equal(t, jobs.StatusCompleted, job.Status)
		require.NotNil(t, job.Output)
		assert.Equal(t, "A red bicycle leaning on a brick wall.", job.Output.AltText)
		assert.Equal(t, model, job.Output.Model)
		assert.Equal(t, 1, job.Attempts)
		assert.NotNil(t, job.CompletedAt)
	}
	assert.Equal(t, "A red bicycle leaning on a brick wall.", f.catalog.Alt(3, siteDE.ID))
	assert.Empty(t, f.catalog.Alt(3, siteEN.ID))
	assert.Equal(t, 3, f.generator.Calls())
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.JobsProcessedTotal.WithLabelValues("completed")))

	pending, err := f.queue.PendingDescriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "finished jobs leave the dedup index")
}

func TestRunOnceEmptyQueue(t *testing.T) {
	f := newFixture(t)
	n, err := New(f.queue, f.service, Config{}, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceRecordsFailures(t *testing.T) {
	tests := []struct {
		name          string
		assetID       int64
		result        vision.Result
		wantKind      string
		wantRetryable bool
		wantError     string
	}{
		{
			name:      "vendor rejected",
			assetID:   1,
			result:    vision.Failure(vision.ErrorVendorRejected, "invalid image"),
			wantKind:  "generation_failed",
			wantError: "generation_failed (vendor_rejected): invalid image",
		},
		{
			name:          "transport",
			assetID:       1,
			result:        vision.Failure(vision.ErrorTransport, "connection reset"),
			wantKind:      "generation_failed",
			wantRetryable: true,
			wantError:     "transport",
		},
		{
			name:      "asset deleted after queueing",
			assetID:   404,
			result:    vision.Success("unused"),
			wantKind:  KindAssetNotFound,
			wantError: "not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.generator.Result = tt.result
			queued := f.enqueue(t, tt.assetID, siteEN.ID)

			n, err := New(f.queue, f.service, Config{Model: model}, zerolog.Nop()).RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			job := f.get(t, queued.ID)
			assert.Equal(t, jobs.StatusFailed, job.Status)
			assert.Equal(t, tt.wantKind, job.ErrorKind)
			assert.Equal(t, tt.wantRetryable, job.Retryable)
			assert.Contains(t, job.Error, tt.wantError)
			assert.Nil(t, job.Output)
		})
	}
}

func TestRunOnceFailureDoesNotStopOtherJobs(t *testing.T) {
	f := newFixture(t)
	missing := f.enqueue(t, 404, siteEN.ID)
	ok := f.enqueue(t, 2, siteEN.ID)

	n, err := New(f.queue, f.service, Config{Model: model}, zerolog.Nop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, jobs.StatusFailed, f.get(t, missing.ID).Status)
	assert.Equal(t, jobs.StatusCompleted, f.get(t, ok.ID).Status)
}

type brokenRunner struct{ jobs.Runner }

func (brokenRunner) Claim(ctx context.Context) (*jobs.Job, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnceClaimError(t *testing.T) {
	f := newFixture(t)
	_, err := New(brokenRunner{}, f.service, Config{}, zerolog.Nop()).RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunUntilCancelled(t *testing.T) {
	f := newFixture(t)
	w := New(f.queue, f.service, Config{Concurrency: 2, PollInterval: 10 * time.Millisecond, Model: model}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	queued := f.enqueue(t, 1, siteEN.ID)
	assert.Eventually(t, func() bool {
		job, err := f.queue.Get(context.Background(), queued.ID)
		return err == nil && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRateLimiterPacesClaims(t *testing.T) {
	f := newFixture(t)
	for id := int64(1); id <= 3; id++ {
		f.enqueue(t, id, siteEN.ID)
	}

	// One token per 100ms with a burst of one.
	w := New(f.queue, f.service, Config{Concurrency: 1, RequestsPerMinute: 600}, zerolog.Nop())
	start := time.Now()
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestFailureFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want jobs.Failure
	}{
		{
			name: "unsupported format",
			err:  &alttext.DescribeError{Kind: alttext.KindUnsupportedFormat, Message: "svg"},
			want: jobs.Failure{Message: "unsupported_format: svg", Kind: "unsupported_format"},
		},
		{
			name: "persist failed",
			err:  fmt.Errorf("job: %w", &alttext.DescribeError{Kind: alttext.KindPersistFailed, Message: "db down"}),
			want: jobs.Failure{Message: "persist_failed: db down", Kind: "persist_failed", Retryable: true},
		},
		{
			name: "missing asset",
			err:  fmt.Errorf("asset 9 in site 1: %w", storage.ErrNotFound),
			want: jobs.Failure{Message: "asset 9 in site 1: not found", Kind: KindAssetNotFound},
		},
		{
			name: "unknown",
			err:  errors.New("failed to list sites: timeout"),
			want: jobs.Failure{Message: "failed to list sites: timeout", Kind: KindInternal, Retryable: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureFor(tt.err))
		})
	}
}
