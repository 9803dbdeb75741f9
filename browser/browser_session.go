package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// BrowserSession is a live DevTools connection to one browser, focused on a
// single page target.
type BrowserSession struct {
	CDPURL         string
	Headers        map[string]string
	client         *CDPClient
	sessionManager *SessionManager
	focusTarget    string
	logger         logrus.FieldLogger
}

func NewBrowserSession(cdpURL string, headers map[string]string, logger logrus.FieldLogger) *BrowserSession {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BrowserSession{
		CDPURL:  cdpURL,
		Headers: headers,
		logger:  logger,
	}
}

// Connect dials the browser and focuses its first page target, creating one
// when the browser has none.
func (bs *BrowserSession) Connect(ctx context.Context) error {
	if bs.CDPURL == "" {
		return errors.New("cdp url required")
	}
	resolvedURL, err := bs.resolveWebSocketURL(ctx, bs.CDPURL)
	if err != nil {
		return err
	}
	bs.CDPURL = resolvedURL
	headers := http.Header{}
	for key, value := range bs.Headers {
		headers.Set(key, value)
	}
	bs.client = NewCDPClient(resolvedURL, headers, bs.logger)
	if err := bs.client.Start(ctx); err != nil {
		return err
	}
	bs.sessionManager = NewSessionManager(bs.client, bs.logger)
	if err := bs.sessionManager.StartMonitoring(ctx); err != nil {
		return err
	}
	err = bs.client.Call(ctx, "Target.setAutoAttach", map[string]any{
		"autoAttach":             true,
		"waitForDebuggerOnStart": false,
		"flatten":                true,
	}, "", nil)
	if err != nil {
		return err
	}

	var targetID string
	if pages := bs.sessionManager.PageTargets(); len(pages) > 0 {
		targetID = pages[0].TargetID
	} else {
		var created struct {
			TargetID string `json:"targetId"`
		}
		if err := bs.client.Call(ctx, "Target.createTarget", map[string]any{"url": "about:blank"}, "", &created); err != nil {
			return err
		}
		if created.TargetID == "" {
			return errors.New("browser created a page without a target id")
		}
		targetID = created.TargetID
	}
	_, err = bs.GetOrCreateSession(ctx, targetID, true)
	return err
}

func (bs *BrowserSession) resolveWebSocketURL(ctx context.Context, cdpURL string) (string, error) {
	if strings.HasPrefix(cdpURL, "ws") {
		return cdpURL, nil
	}
	parsed, err := url.Parse(cdpURL)
	if err != nil {
		return "", err
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(parsed.Path, "/json/version") {
		parsed.Path = path.Join(parsed.Path, "/json/version")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	for key, value := range bs.Headers {
		request.Header.Set(key, value)
	}
	// One request per connect; don't leave a keep-alive connection behind.
	request.Close = true
	resp, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var payload struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode %s: %w", parsed.String(), err)
	}
	if payload.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("webSocketDebuggerUrl missing from response")
	}
	return payload.WebSocketDebuggerURL, nil
}

func (bs *BrowserSession) GetOrCreateSession(ctx context.Context, targetID string, focus bool) (*CDPSession, error) {
	if bs.sessionManager == nil {
		return nil, errors.New("session manager not initialized")
	}
	if targetID == "" {
		return nil, errors.New("target id required")
	}
	session, err := bs.sessionManager.WaitForSession(ctx, targetID, 500*time.Millisecond)
	if err != nil {
		if _, err := bs.client.Send(ctx, "Target.attachToTarget", map[string]any{"targetId": targetID, "flatten": true}, ""); err != nil {
			return nil, err
		}
		session, err = bs.sessionManager.WaitForSession(ctx, targetID, 2*time.Second)
		if err != nil {
			return nil, err
		}
	}
	if focus {
		bs.focusTarget = targetID
		_, _ = bs.client.Send(ctx, "Target.activateTarget", map[string]any{"targetId": targetID}, "")
	}
	return session, nil
}

// CurrentPage returns the focused page, or nil before Connect.
func (bs *BrowserSession) CurrentPage() *Page {
	if bs.focusTarget == "" {
		return nil
	}
	return &Page{browser: bs, targetID: bs.focusTarget}
}

func (bs *BrowserSession) Close() error {
	if bs.client == nil {
		return nil
	}
	return bs.client.Stop()
}
