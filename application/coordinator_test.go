package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"flowpilot-go/core/eventbus"
	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/browser/browsertest"
	"flowpilot-go/infrastructure/config"
	"flowpilot-go/infrastructure/repository"
	"flowpilot-go/resources"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.Default()
	a := &cfg.Automation
	a.GenerationTimeoutMs = 1000
	a.PollInterval = 5 * time.Millisecond
	a.ResultSettle = time.Millisecond
	a.UploadAttempts = 5
	a.UploadInterval = 2 * time.Millisecond
	a.StepPause = time.Millisecond
	a.ControlWait = 100 * time.Millisecond
	a.CropWait = 30 * time.Millisecond
	a.CreateWait = 100 * time.Millisecond
	a.MenuWait = 100 * time.Millisecond
	a.CaptureWait = 100 * time.Millisecond
	a.ClearPause = time.Millisecond
	a.ReloadSettle = time.Millisecond
	a.StartupPause = time.Millisecond
	a.WarmupTimeout = 100 * time.Millisecond
	a.KeyboardNavTimeout = 100 * time.Millisecond
	a.MinKeyDelay = 0
	a.MaxKeyDelay = 0
	return cfg
}

func newTestCoordinator(t *testing.T, page *browsertest.Page, bus eventbus.EventBus) *Coordinator {
	t.Helper()
	reg := locator.NewRegistry()
	require.NoError(t, locator.NewLoader(reg).LoadFromFS(resources.LocatorFiles))

	cfg := testConfig()
	coord := NewCoordinator(&CoordinatorConfig{
		EventBus:      bus,
		Locators:      reg,
		Automation:    cfg.Automation,
		Target:        cfg.Target,
		DriverFactory: func() browser.Driver { return page },
		History:       repository.NewMemoryHistoryRepository(10),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(coord.Stop)
	return coord
}

func TestCoordinator_NoSession(t *testing.T) {
	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), nil)
	ctx := context.Background()

	assert.Equal(t, state.StateIdle, coord.State())

	_, err := coord.Generate(ctx, "a red circle", nil)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = coord.Upscale(ctx, "a red circle", 0, "2K")
	assert.ErrorIs(t, err, ErrNoSession)

	assert.ErrorIs(t, coord.Reload(ctx, "manual"), ErrNoSession)
}

func TestCoordinator_StartSession(t *testing.T) {
	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), nil)
	ctx := context.Background()

	require.NoError(t, coord.StartSession(ctx))
	assert.Equal(t, state.StateReady, coord.State())
	assert.ErrorIs(t, coord.StartSession(ctx), ErrSessionRunning)

	coord.StopSession()
	assert.Equal(t, state.StateIdle, coord.State())
	assert.Nil(t, coord.Session())
}

func TestCoordinator_StartSessionFailure(t *testing.T) {
	page := browsertest.NewPage(t.TempDir())
	page.StartErr = errors.New("chrome not found")
	coord := newTestCoordinator(t, page, nil)

	err := coord.StartSession(context.Background())
	assert.ErrorIs(t, err, page.StartErr)
	assert.Nil(t, coord.Session())
}

func TestCoordinator_GenerateAndUpscale(t *testing.T) {
	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), nil)
	ctx := context.Background()
	require.NoError(t, coord.StartSession(ctx))

	images, err := coord.Generate(ctx, "a red circle", nil)
	require.NoError(t, err)
	require.Len(t, images, 2)
	for _, img := range images {
		assert.NotEmpty(t, img)
	}

	data, err := coord.Upscale(ctx, "a red circle", 0, "2k")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = coord.Upscale(ctx, "a red circle", 5, "2K")
	assert.ErrorIs(t, err, generation.ErrImageNotFound)

	records, err := coord.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, generation.OpUpscale, records[0].Operation)
	assert.Equal(t, "image_not_found", records[0].Outcome)

	assert.Equal(t, generation.OpUpscale, records[1].Operation)
	assert.Equal(t, generation.Scale2K, records[1].Scale)
	assert.True(t, records[1].Succeeded())

	assert.Equal(t, generation.OpGenerate, records[2].Operation)
	assert.Equal(t, 2, records[2].ResultCount)
	assert.Len(t, records[2].Identities, 2)
	assert.NotEmpty(t, records[2].ID)
}

func TestCoordinator_InvalidRequests(t *testing.T) {
	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), nil)
	ctx := context.Background()
	require.NoError(t, coord.StartSession(ctx))

	_, err := coord.Generate(ctx, "   ", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = coord.Upscale(ctx, "a red circle", 0, "8K")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	records, err := coord.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records, "rejected input never reaches the page")
}

func TestCoordinator_NegativeIndexNotFound(t *testing.T) {
	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), nil)
	ctx := context.Background()
	require.NoError(t, coord.StartSession(ctx))

	_, err := coord.Generate(ctx, "a red circle", nil)
	require.NoError(t, err)

	_, err = coord.Upscale(ctx, "a red circle", -1, "1K")
	assert.ErrorIs(t, err, generation.ErrImageNotFound)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestCoordinator_RejectionRecorded(t *testing.T) {
	page := browsertest.NewPage(t.TempDir())
	page.OnSubmit = func(p *browsertest.Page, _ string) { p.ShowToast("Something went wrong", true) }
	coord := newTestCoordinator(t, page, nil)
	ctx := context.Background()
	require.NoError(t, coord.StartSession(ctx))

	_, err := coord.Generate(ctx, "a red circle", nil)
	msg, ok := generation.RejectionMessage(err)
	require.True(t, ok)
	assert.Equal(t, "Something went wrong", msg)

	records, err := coord.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "website_rejected", records[0].Outcome)
	assert.Contains(t, records[0].ErrorMessage, "Something went wrong")
}

func TestCoordinator_CallerGivesUp(t *testing.T) {
	page := browsertest.NewPage(t.TempDir())
	page.OnSubmit = nil
	coord := newTestCoordinator(t, page, nil)
	require.NoError(t, coord.StartSession(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := coord.Generate(ctx, "never renders", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_CheckAccess(t *testing.T) {
	page := browsertest.NewPage(t.TempDir())
	coord := newTestCoordinator(t, page, nil)
	ctx := context.Background()
	require.NoError(t, coord.StartSession(ctx))

	url, err := coord.CheckAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, coord.target.URL, url)

	page.SetAccessDenied(true)
	_, err = coord.CheckAccess(ctx)
	assert.ErrorIs(t, err, generation.ErrAccessDenied)
}

func TestCoordinator_DropsStoppedSession(t *testing.T) {
	bus := eventbus.New(64)
	defer bus.Close()

	coord := newTestCoordinator(t, browsertest.NewPage(t.TempDir()), bus)
	require.NoError(t, coord.StartSession(context.Background()))

	coord.Session().Stop()

	assert.Eventually(t, func() bool { return coord.Session() == nil }, time.Second, 5*time.Millisecond)
	assert.NoError(t, coord.StartSession(context.Background()), "a new session may start after the old one stopped")
}
