package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naylin209/instalogin/browser/cdptest"
)

func TestSessionManagerReattach(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t)
	bs, _ := connect(t, server)
	sm := bs.sessionManager

	first := sm.SessionForTarget(cdptest.TargetID)
	require.NotNil(t, first)
	assert.Equal(t, cdptest.SessionID, first.SessionID)

	server.Emit("Target.detachedFromTarget", map[string]any{"sessionId": cdptest.SessionID, "targetId": cdptest.TargetID})
	require.Eventually(t, func() bool { return sm.SessionForTarget(cdptest.TargetID) == nil }, 2*time.Second, 5*time.Millisecond)

	server.Emit("Target.attachedToTarget", map[string]any{
		"sessionId":  "session-2",
		"targetInfo": map[string]any{"targetId": cdptest.TargetID, "type": "page", "url": "about:blank"},
	})
	session, err := sm.WaitForSession(testContext(t), cdptest.TargetID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "session-2", session.SessionID)

	var enabled bool
	for _, call := range server.CallsTo("Page.enable") {
		enabled = enabled || call.SessionID == "session-2"
	}
	assert.True(t, enabled, "lifecycle setup runs for the new session")
}

func TestSessionManagerTracksTargets(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t)
	bs, _ := connect(t, server)
	sm := bs.sessionManager

	server.Emit("Target.targetInfoChanged", map[string]any{
		"targetInfo": map[string]any{"targetId": "sw-1", "type": "service_worker", "url": "https://www.instagram.com/sw.js"},
	})
	server.Emit("Target.targetInfoChanged", map[string]any{
		"targetInfo": map[string]any{"targetId": cdptest.TargetID, "type": "page", "url": "https://www.instagram.com/", "title": "Instagram"},
	})
	require.Eventually(t, func() bool {
		target, ok := sm.Target(cdptest.TargetID)
		return ok && target.URL == "https://www.instagram.com/"
	}, 2*time.Second, 5*time.Millisecond)

	// Events are handled in order, so the worker was already seen and ignored.
	_, ok := sm.Target("sw-1")
	assert.False(t, ok)
	require.Len(t, sm.PageTargets(), 1)
	assert.Equal(t, "Instagram", sm.PageTargets()[0].Title)

	server.Emit("Target.targetDestroyed", map[string]any{"targetId": cdptest.TargetID})
	require.Eventually(t, func() bool { return len(sm.PageTargets()) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, sm.SessionForTarget(cdptest.TargetID))
}

func TestWaitForSessionTimeout(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t)
	bs, _ := connect(t, server)

	_, err := bs.sessionManager.WaitForSession(testContext(t), "page-unknown", 30*time.Millisecond)
	require.ErrorContains(t, err, "page-unknown")
	assert.Len(t, bs.sessionManager.PageTargets(), 1, "waiting does not invent a page")
}
