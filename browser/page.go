package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	navigationReadyTimeout = 10 * time.Second
	readyStatePollInterval = 200 * time.Millisecond
)

// NavigationError reports a navigation the browser refused or could not
// complete, e.g. net::ERR_NAME_NOT_RESOLVED.
type NavigationError struct {
	URL    string
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %s", e.URL, e.Reason)
}

type Page struct {
	browser   *BrowserSession
	targetID  string
	sessionID string
	mouse     *Mouse
}

func (p *Page) ensureSession(ctx context.Context) (string, error) {
	if p.sessionID != "" {
		return p.sessionID, nil
	}
	session, err := p.browser.GetOrCreateSession(ctx, p.targetID, false)
	if err != nil {
		return "", err
	}
	p.sessionID = session.SessionID
	return p.sessionID, nil
}

func (p *Page) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	sessionID, err := p.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return p.browser.client.Send(ctx, method, params, sessionID)
}

// Goto navigates and waits until the document is at least interactive.
func (p *Page) Goto(ctx context.Context, url string) error {
	result, err := p.send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}
	if reason, _ := result["errorText"].(string); reason != "" {
		return &NavigationError{URL: url, Reason: reason}
	}
	return p.WaitForReadyState(ctx, navigationReadyTimeout)
}

func (p *Page) Evaluate(ctx context.Context, pageFunction string, args ...any) (string, error) {
	expression, err := buildExpression(pageFunction, args)
	if err != nil {
		return "", err
	}
	result, err := p.send(ctx, "Runtime.evaluate", map[string]any{"expression": expression, "returnByValue": true, "awaitPromise": true})
	if err != nil {
		return "", err
	}
	if details, ok := result["exceptionDetails"].(map[string]any); ok {
		text, _ := details["text"].(string)
		return "", fmt.Errorf("evaluate: %s", text)
	}
	return remoteValueString(result)
}

// arrowFunction matches the head of "(a, b) => ...", "async () => ..." and
// "x => ...". An IIFE that merely contains arrows is not a match.
var arrowFunction = regexp.MustCompile(`^(async\s+)?(\([^()]*\)|[A-Za-z_$][\w$]*)\s*=>`)

func buildExpression(pageFunction string, args []any) (string, error) {
	pageFunction = strings.TrimSpace(pageFunction)
	isArrow := arrowFunction.MatchString(pageFunction)
	if !isArrow && len(args) == 0 {
		return pageFunction, nil
	}
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return "", err
		}
		encoded = append(encoded, string(data))
	}
	if isArrow {
		return fmt.Sprintf("(%s)(%s)", pageFunction, strings.Join(encoded, ", ")), nil
	}
	return fmt.Sprintf("(function(...args){ return (%s); })(%s)", pageFunction, strings.Join(encoded, ", ")), nil
}

func remoteValueString(result map[string]any) (string, error) {
	resValue, ok := result["result"].(map[string]any)
	if !ok {
		return "", nil
	}
	value, ok := resValue["value"]
	if !ok || value == nil {
		return "", nil
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(encoded), nil
	}
}

func (p *Page) WaitForReadyState(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyStatePollInterval)
	defer ticker.Stop()
	for {
		state, err := p.Evaluate(ctx, "document.readyState")
		if err == nil && (state == "complete" || state == "interactive") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("document not ready after %s: %w", timeout, context.DeadlineExceeded)
		case <-ticker.C:
		}
	}
}

// QuerySelector resolves the first element matching selector. It returns a
// nil element and a nil error when nothing matches yet.
func (p *Page) QuerySelector(ctx context.Context, selector string) (*Element, error) {
	if selector == "" {
		return nil, errors.New("selector required")
	}
	doc, err := p.send(ctx, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return nil, err
	}
	root, ok := doc["root"].(map[string]any)
	if !ok {
		return nil, errors.New("root missing")
	}
	rootID, ok := root["nodeId"].(float64)
	if !ok {
		return nil, errors.New("nodeId missing")
	}
	found, err := p.send(ctx, "DOM.querySelector", map[string]any{"nodeId": int(rootID), "selector": selector})
	if err != nil {
		return nil, err
	}
	nodeID, _ := found["nodeId"].(float64)
	if nodeID == 0 {
		return nil, nil
	}
	desc, err := p.send(ctx, "DOM.describeNode", map[string]any{"nodeId": int(nodeID)})
	if err != nil {
		return nil, err
	}
	node, ok := desc["node"].(map[string]any)
	if !ok {
		return nil, errors.New("node missing")
	}
	backendID, ok := node["backendNodeId"].(float64)
	if !ok {
		return nil, errors.New("backendNodeId missing")
	}
	return &Element{page: p, backendNodeID: int(backendID)}, nil
}

// Maximize asks the browser window to fill the screen. Headless browsers have
// no window to maximize, so on failure the viewport is overridden with the
// fallback size instead.
func (p *Page) Maximize(ctx context.Context, fallbackWidth, fallbackHeight int) error {
	err := p.maximizeWindow(ctx)
	if err == nil {
		return nil
	}
	p.browser.logger.WithError(err).Debug("window maximize unavailable, overriding viewport")
	if fallbackWidth <= 0 || fallbackHeight <= 0 {
		return err
	}
	return p.SetViewportSize(ctx, fallbackWidth, fallbackHeight)
}

func (p *Page) maximizeWindow(ctx context.Context) error {
	window, err := p.browser.client.Send(ctx, "Browser.getWindowForTarget", map[string]any{"targetId": p.targetID}, "")
	if err != nil {
		return err
	}
	windowID, ok := window["windowId"].(float64)
	if !ok {
		return errors.New("windowId missing")
	}
	_, err = p.browser.client.Send(ctx, "Browser.setWindowBounds", map[string]any{
		"windowId": int(windowID),
		"bounds":   map[string]any{"windowState": "maximized"},
	}, "")
	return err
}

func (p *Page) SetViewportSize(ctx context.Context, width, height int) error {
	params := map[string]any{"width": width, "height": height, "deviceScaleFactor": 1, "mobile": false}
	_, err := p.send(ctx, "Emulation.setDeviceMetricsOverride", params)
	return err
}

func (p *Page) InsertText(ctx context.Context, text string) error {
	_, err := p.send(ctx, "Input.insertText", map[string]any{"text": text})
	return err
}

// Press dispatches a keyDown/keyUp pair for a named key to the focused element.
func (p *Page) Press(ctx context.Context, key string) error {
	def, ok := keyDefinitions[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	down := map[string]any{
		"type":                  "rawKeyDown",
		"key":                   def.key,
		"code":                  def.code,
		"windowsVirtualKeyCode": def.keyCode,
		"nativeVirtualKeyCode":  def.keyCode,
	}
	if def.text != "" {
		down["type"] = "keyDown"
		down["text"] = def.text
		down["unmodifiedText"] = def.text
	}
	if _, err := p.send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}
	_, err := p.send(ctx, "Input.dispatchKeyEvent", map[string]any{
		"type":                  "keyUp",
		"key":                   def.key,
		"code":                  def.code,
		"windowsVirtualKeyCode": def.keyCode,
		"nativeVirtualKeyCode":  def.keyCode,
	})
	return err
}

// Screenshot captures the visible viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	result, err := p.send(ctx, "Page.captureScreenshot", map[string]any{"format": "png", "captureBeyondViewport": false})
	if err != nil {
		return nil, err
	}
	data, ok := result["data"].(string)
	if !ok {
		return nil, errors.New("screenshot data missing")
	}
	return base64.StdEncoding.DecodeString(data)
}

func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	return p.Evaluate(ctx, "() => document.documentElement ? document.documentElement.outerHTML : ''")
}

func (p *Page) DevicePixelRatio(ctx context.Context) float64 {
	value, err := p.Evaluate(ctx, "() => window.devicePixelRatio")
	if err != nil {
		return 1
	}
	var ratio float64
	if _, err := fmt.Sscanf(value, "%g", &ratio); err != nil || ratio <= 0 {
		return 1
	}
	return ratio
}

func (p *Page) Mouse(ctx context.Context) (*Mouse, error) {
	if p.mouse != nil {
		return p.mouse, nil
	}
	if _, err := p.ensureSession(ctx); err != nil {
		return nil, err
	}
	p.mouse = &Mouse{page: p}
	return p.mouse, nil
}
