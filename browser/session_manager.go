package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const attachSetupTimeout = 5 * time.Second

type pageEntry struct {
	target   Target
	session  *CDPSession
	attached chan struct{}
	listed   bool
}

// SessionManager follows Target.* events and keeps one flattened session per
// page target.
type SessionManager struct {
	client *CDPClient
	logger logrus.FieldLogger

	mu    sync.Mutex
	pages map[string]*pageEntry
	order []string
}

func NewSessionManager(client *CDPClient, logger logrus.FieldLogger) *SessionManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionManager{
		client: client,
		logger: logger,
		pages:  make(map[string]*pageEntry),
	}
}

// StartMonitoring subscribes to target events and attaches to the pages that
// are already open.
func (sm *SessionManager) StartMonitoring(ctx context.Context) error {
	sm.client.Register("Target.attachedToTarget", sm.onAttached)
	sm.client.Register("Target.detachedFromTarget", sm.onDetached)
	sm.client.Register("Target.targetInfoChanged", sm.onInfoChanged)
	sm.client.Register("Target.targetDestroyed", sm.onDestroyed)

	err := sm.client.Call(ctx, "Target.setDiscoverTargets", map[string]any{
		"discover": true,
		"filter":   []map[string]string{{"type": "page"}},
	}, "", nil)
	if err != nil {
		return err
	}

	var existing struct {
		TargetInfos []Target `json:"targetInfos"`
	}
	if err := sm.client.Call(ctx, "Target.getTargets", nil, "", &existing); err != nil {
		return err
	}
	for _, target := range existing.TargetInfos {
		if !target.isPage() {
			continue
		}
		sm.track(target)
		err := sm.client.Call(ctx, "Target.attachToTarget", map[string]any{
			"targetId": target.TargetID,
			"flatten":  true,
		}, "", nil)
		if err != nil {
			sm.logger.WithError(err).WithField("target", target.TargetID).Debug("attach to open page failed")
		}
	}
	return nil
}

// track records target and returns its entry. sm.mu must not be held.
func (sm *SessionManager) track(target Target) *pageEntry {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.trackLocked(target)
}

func (sm *SessionManager) trackLocked(target Target) *pageEntry {
	entry := sm.entryLocked(target.TargetID)
	entry.target = target
	if !entry.listed {
		entry.listed = true
		sm.order = append(sm.order, target.TargetID)
	}
	return entry
}

// entryLocked returns the entry for targetID, creating an unlisted one for
// targets nobody has described yet.
func (sm *SessionManager) entryLocked(targetID string) *pageEntry {
	entry, ok := sm.pages[targetID]
	if !ok {
		entry = &pageEntry{target: Target{TargetID: targetID}, attached: make(chan struct{})}
		sm.pages[targetID] = entry
	}
	return entry
}

func (sm *SessionManager) onAttached(event CDPEvent) {
	var payload struct {
		SessionID  string `json:"sessionId"`
		TargetInfo Target `json:"targetInfo"`
	}
	if err := json.Unmarshal(event.Params, &payload); err != nil {
		return
	}
	if payload.SessionID == "" || !payload.TargetInfo.isPage() {
		return
	}

	// Lifecycle events drive WaitForReadyState; enable them before anyone
	// can see the session.
	ctx, cancel := context.WithTimeout(context.Background(), attachSetupTimeout)
	for _, method := range []string{"Page.enable", "Page.setLifecycleEventsEnabled"} {
		var params any
		if method == "Page.setLifecycleEventsEnabled" {
			params = map[string]any{"enabled": true}
		}
		if err := sm.client.Call(ctx, method, params, payload.SessionID, nil); err != nil {
			sm.logger.WithError(err).WithField("method", method).Debug("page setup failed")
		}
	}
	cancel()

	session := &CDPSession{TargetID: payload.TargetInfo.TargetID, SessionID: payload.SessionID}
	sm.mu.Lock()
	entry := sm.trackLocked(payload.TargetInfo)
	if entry.session == nil {
		entry.session = session
		close(entry.attached)
	}
	sm.mu.Unlock()

	sm.logger.WithFields(logrus.Fields{"target": session.TargetID, "session": session.SessionID}).Debug("attached to page")
}

func (sm *SessionManager) onDetached(event CDPEvent) {
	var payload struct {
		SessionID string `json:"sessionId"`
		TargetID  string `json:"targetId"`
	}
	if err := json.Unmarshal(event.Params, &payload); err != nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, entry := range sm.pages {
		if entry.session == nil || entry.session.SessionID != payload.SessionID {
			continue
		}
		if payload.TargetID != "" && payload.TargetID != id {
			continue
		}
		// A fresh channel lets a later re-attach wake new waiters.
		entry.session = nil
		entry.attached = make(chan struct{})
	}
}

func (sm *SessionManager) onInfoChanged(event CDPEvent) {
	var payload struct {
		TargetInfo Target `json:"targetInfo"`
	}
	if err := json.Unmarshal(event.Params, &payload); err != nil || !payload.TargetInfo.isPage() {
		return
	}
	sm.track(payload.TargetInfo)
}

func (sm *SessionManager) onDestroyed(event CDPEvent) {
	var payload struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(event.Params, &payload); err != nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	entry, ok := sm.pages[payload.TargetID]
	if !ok {
		return
	}
	delete(sm.pages, payload.TargetID)
	if !entry.listed {
		return
	}
	for i, id := range sm.order {
		if id == payload.TargetID {
			sm.order = append(sm.order[:i], sm.order[i+1:]...)
			break
		}
	}
}

// PageTargets lists known pages, oldest first.
func (sm *SessionManager) PageTargets() []Target {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	targets := make([]Target, 0, len(sm.order))
	for _, id := range sm.order {
		targets = append(targets, sm.pages[id].target)
	}
	return targets
}

// Target returns what is known about targetID, including its current URL.
func (sm *SessionManager) Target(targetID string) (Target, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	entry, ok := sm.pages[targetID]
	if !ok || !entry.listed {
		return Target{}, false
	}
	return entry.target, true
}

func (sm *SessionManager) SessionForTarget(targetID string) *CDPSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if entry, ok := sm.pages[targetID]; ok {
		return entry.session
	}
	return nil
}

// WaitForSession blocks until a session is attached to targetID, the timeout
// elapses or ctx is done.
func (sm *SessionManager) WaitForSession(ctx context.Context, targetID string, timeout time.Duration) (*CDPSession, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		sm.mu.Lock()
		entry := sm.entryLocked(targetID)
		session, attached := entry.session, entry.attached
		sm.mu.Unlock()
		if session != nil {
			return session, nil
		}

		select {
		case <-attached:
		case <-timer.C:
			return nil, fmt.Errorf("waiting for session on target %s: %w", targetID, context.DeadlineExceeded)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
