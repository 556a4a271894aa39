package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/browser/browsertest"
)

func startedPage(t *testing.T) *browsertest.Page {
	t.Helper()
	page := browsertest.NewPage(t.TempDir())
	require.NoError(t, page.Start(context.Background()))
	return page
}

func TestBrowserController_FallsBackToLaterCandidate(t *testing.T) {
	page := startedPage(t)
	reg := testRegistry(t)
	reg.Register(&locator.Strategy{
		Target: locator.TargetPromptField,
		Candidates: []locator.Query{
			{CSS: "div[contenteditable]"},
			{CSS: "textarea", Pick: locator.PickFirst},
		},
	})
	ctrl := NewBrowserController(page, reg, time.Millisecond, discardLogger())

	els, err := ctrl.Find(context.Background(), locator.TargetPromptField, nil)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "PINHOLE_TEXT_AREA_ELEMENT_ID", els[0].Attr("id"))
}

func TestBrowserController_UnknownTarget(t *testing.T) {
	ctrl := NewBrowserController(startedPage(t), locator.NewRegistry(), time.Millisecond, discardLogger())

	_, err := ctrl.Find(context.Background(), locator.TargetPromptField, nil)
	assert.Error(t, err)
	assert.Zero(t, ctrl.Count(context.Background(), locator.TargetPromptField, nil))
}

func TestBrowserController_WaitFor(t *testing.T) {
	page := startedPage(t)
	ctrl := NewBrowserController(page, testRegistry(t), time.Millisecond, discardLogger())
	ctx := context.Background()

	_, err := ctrl.WaitFor(ctx, locator.TargetCropConfirm, nil, 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrElementNotFound)

	go func() {
		time.Sleep(5 * time.Millisecond)
		page.ShowCropDialog()
	}()
	el, err := ctrl.WaitFor(ctx, locator.TargetCropConfirm, nil, time.Second, Clickable)
	require.NoError(t, err)
	assert.Equal(t, "Crop and Save", el.Text)
}

func TestBrowserController_StoppedBrowser(t *testing.T) {
	page := browsertest.NewPage(t.TempDir())
	ctrl := NewBrowserController(page, testRegistry(t), time.Millisecond, discardLogger())

	_, err := ctrl.WaitFor(context.Background(), locator.TargetPromptField, nil, time.Second, nil)
	assert.ErrorIs(t, err, browser.ErrNotRunning)
	assert.ErrorIs(t, ctrl.Refresh(context.Background(), 0), browser.ErrNotRunning)
}

func TestCleanMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Quota exceeded  ", "Quota exceeded"},
		{"error Something went wrong", "Something went wrong"},
		{"errorBad prompt", "Bad prompt"},
		{"error", "fallback"},
		{"   ", "fallback"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanMessage(tt.in, "fallback"), "input %q", tt.in)
	}
}

func TestErrorMonitor_CheckNotification(t *testing.T) {
	page := startedPage(t)
	ctrl := NewBrowserController(page, testRegistry(t), time.Millisecond, discardLogger())

	var reasons []string
	var detected []generation.ErrorEvent
	monitor := NewErrorMonitor(ctrl, ErrorMonitorConfig{TransientPhrases: []string{"try again"}},
		func(ctx context.Context, reason string) error {
			reasons = append(reasons, reason)
			return page.Reload(ctx)
		},
		func(ev generation.ErrorEvent) { detected = append(detected, ev) },
		discardLogger())
	ctx := context.Background()

	_, found := monitor.CheckNotification(ctx)
	assert.False(t, found)

	page.ShowToast("Saved to your project", false)
	_, found = monitor.CheckNotification(ctx)
	assert.False(t, found, "info notifications are not errors")

	page.ShowToast("Please try again later", true)
	ev, found := monitor.CheckNotification(ctx)
	require.True(t, found)
	assert.Equal(t, "Please try again later", ev.Message)
	assert.True(t, ev.Recovered)
	assert.Equal(t, []string{"transient_notification"}, reasons)
	assert.Zero(t, page.ToastCount())
	require.Len(t, detected, 1)
	assert.Equal(t, generation.KindNotification, detected[0].Kind)
}

func TestErrorMonitor_CheckInlinePanel(t *testing.T) {
	page := startedPage(t)
	ctrl := NewBrowserController(page, testRegistry(t), time.Millisecond, discardLogger())
	ctx := context.Background()

	disabled := NewErrorMonitor(ctrl, ErrorMonitorConfig{}, nil, nil, discardLogger())
	monitor := NewErrorMonitor(ctrl, ErrorMonitorConfig{InlineFailureText: "Something went wrong."}, nil, nil, discardLogger())

	page.ShowInlineError("Something went wrong. Details below")
	_, found := monitor.CheckInlinePanel(ctx)
	assert.False(t, found, "text must match exactly")

	page.ShowInlineError("Something went wrong.")
	ev, found := monitor.CheckInlinePanel(ctx)
	require.True(t, found)
	assert.Equal(t, generation.KindInlinePanel, ev.Kind)

	_, found = disabled.CheckInlinePanel(ctx)
	assert.False(t, found)
}

func TestSameDocument(t *testing.T) {
	target := "https://labs.google/fx/tools/flow/project/abc"
	tests := []struct {
		location string
		want     bool
	}{
		{target, true},
		{target + "/", true},
		{target + "?hl=en", true},
		{target + "#top", true},
		{"https://labs.google/fx/tools/flow", false},
		{"about:blank", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SameDocument(tt.location, target), tt.location)
	}
}

func TestNavigator_Jitter(t *testing.T) {
	n := NewNavigator(nil, NavigatorConfig{MinKeyDelay: 10 * time.Millisecond, MaxKeyDelay: 20 * time.Millisecond}, nil, nil)

	for i := 0; i < 50; i++ {
		d := n.jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)

		k := n.keyDelay()
		assert.GreaterOrEqual(t, k, 10*time.Millisecond)
		assert.Less(t, k, 20*time.Millisecond)
	}
	assert.Zero(t, n.jitter(0))
}

func TestDeniedMarker(t *testing.T) {
	markers := []string{"403 Forbidden", "Access Denied"}

	m, found := DeniedMarker("<html><head><title>403 Forbidden</title></head><body></body></html>", markers)
	assert.True(t, found)
	assert.Equal(t, "403 Forbidden", m)

	m, found = DeniedMarker("<html><body><p>Access Denied</p></body></html>", markers)
	assert.True(t, found)
	assert.Equal(t, "Access Denied", m)

	_, found = DeniedMarker(`<html><body><img alt="Access Denied"></body></html>`, markers)
	assert.False(t, found, "attribute values are not page text")

	_, found = DeniedMarker(browsertest.Layout, markers)
	assert.False(t, found)
}

func TestResultPoller_MatchesDeduplicates(t *testing.T) {
	page := startedPage(t)
	ctrl := NewBrowserController(page, testRegistry(t), time.Millisecond, discardLogger())
	poller := NewResultPoller(ctrl, nil, nil, nil, PollerConfig{}, discardLogger())

	srcs := page.RenderResults("a cat", 2)
	page.RenderResults("a dog", 1)

	matches, err := poller.Matches(context.Background(), "a cat")
	require.NoError(t, err)
	assert.ElementsMatch(t, srcs, generation.Identities(matches))
}

func TestSaveImages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := SaveImages(dir, "gen", [][]byte{[]byte("a"), []byte("bb")})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "gen_1.png"), paths[1])

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))
}
