package browser

import (
	"context"
	"errors"
	"math"
)

// Element is a handle to a DOM node by backend id. It stays valid across
// DOM.getDocument calls but not across navigations.
type Element struct {
	page          *Page
	backendNodeID int
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// clearValueJS goes through the prototype's value setter so frameworks that
// track input state (React) notice the change.
const clearValueJS = `function() {
  this.focus();
  const proto = Object.getPrototypeOf(this);
  const descriptor = proto && Object.getOwnPropertyDescriptor(proto, 'value');
  if (descriptor && descriptor.set) {
    descriptor.set.call(this, '');
  } else if ('value' in this) {
    this.value = '';
  } else if (this.isContentEditable) {
    this.textContent = '';
  }
  this.dispatchEvent(new Event('input', {bubbles: true}));
  this.dispatchEvent(new Event('change', {bubbles: true}));
}`

const syntheticClickJS = `function() {
  this.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
}`

func (e *Element) getNodeID(ctx context.Context) (int, error) {
	result, err := e.page.send(ctx, "DOM.pushNodesByBackendIdsToFrontend", map[string]any{"backendNodeIds": []int{e.backendNodeID}})
	if err != nil {
		return 0, err
	}
	ids, ok := result["nodeIds"].([]any)
	if !ok || len(ids) == 0 {
		return 0, errors.New("nodeIds missing")
	}
	id, _ := ids[0].(float64)
	if id == 0 {
		return 0, errors.New("node detached")
	}
	return int(id), nil
}

func (e *Element) resolveObjectID(ctx context.Context) (string, error) {
	result, err := e.page.send(ctx, "DOM.resolveNode", map[string]any{"backendNodeId": e.backendNodeID})
	if err != nil {
		return "", err
	}
	obj, ok := result["object"].(map[string]any)
	if !ok {
		return "", errors.New("object missing")
	}
	objID, _ := obj["objectId"].(string)
	if objID == "" {
		return "", errors.New("objectId missing")
	}
	return objID, nil
}

func (e *Element) callFunction(ctx context.Context, declaration string) (map[string]any, error) {
	objectID, err := e.resolveObjectID(ctx)
	if err != nil {
		return nil, err
	}
	return e.page.send(ctx, "Runtime.callFunctionOn", map[string]any{
		"functionDeclaration": declaration,
		"objectId":            objectID,
		"returnByValue":       true,
	})
}

func (e *Element) Focus(ctx context.Context) error {
	nodeID, err := e.getNodeID(ctx)
	if err != nil {
		return err
	}
	_, err = e.page.send(ctx, "DOM.focus", map[string]any{"nodeId": nodeID})
	return err
}

// Clear empties the element's current value.
func (e *Element) Clear(ctx context.Context) error {
	_, err := e.callFunction(ctx, clearValueJS)
	return err
}

// Type focuses the element and inserts text as if typed.
func (e *Element) Type(ctx context.Context, text string) error {
	if err := e.Focus(ctx); err != nil {
		return err
	}
	return e.page.InsertText(ctx, text)
}

// Press focuses the element and sends a named key such as "Enter".
func (e *Element) Press(ctx context.Context, key string) error {
	if err := e.Focus(ctx); err != nil {
		return err
	}
	return e.page.Press(ctx, key)
}

// Value returns the element's value property.
func (e *Element) Value(ctx context.Context) (string, error) {
	result, err := e.callFunction(ctx, "function() { return this.value === undefined ? '' : String(this.value); }")
	if err != nil {
		return "", err
	}
	return remoteValueString(result)
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	_, err := e.page.send(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"backendNodeId": e.backendNodeID})
	return err
}

// Click presses the left mouse button at the centre of the element. Elements
// without layout (no content quads) receive a synthetic click event instead.
func (e *Element) Click(ctx context.Context) error {
	_ = e.ScrollIntoView(ctx)
	layout, err := e.page.send(ctx, "Page.getLayoutMetrics", nil)
	if err != nil {
		return err
	}
	viewportWidth, viewportHeight := math.Inf(1), math.Inf(1)
	if viewport, ok := layout["layoutViewport"].(map[string]any); ok {
		if w, ok := viewport["clientWidth"].(float64); ok {
			viewportWidth = w
		}
		if h, ok := viewport["clientHeight"].(float64); ok {
			viewportHeight = h
		}
	}

	result, err := e.page.send(ctx, "DOM.getContentQuads", map[string]any{"backendNodeId": e.backendNodeID})
	if err != nil {
		return err
	}
	quads, ok := result["quads"].([]any)
	if !ok || len(quads) == 0 {
		_, err := e.callFunction(ctx, syntheticClickJS)
		return err
	}
	quad, ok := quads[0].([]any)
	if !ok || len(quad) < 8 {
		return errors.New("quad missing")
	}
	var sumX, sumY float64
	for i := 0; i < 8; i += 2 {
		x, _ := quad[i].(float64)
		y, _ := quad[i+1].(float64)
		sumX += x
		sumY += y
	}
	centerX := math.Max(0, math.Min(viewportWidth-1, sumX/4))
	centerY := math.Max(0, math.Min(viewportHeight-1, sumY/4))

	mouse, err := e.page.Mouse(ctx)
	if err != nil {
		return err
	}
	if err := mouse.Move(ctx, centerX, centerY); err != nil {
		return err
	}
	return mouse.Click(ctx, centerX, centerY, "left", 1)
}
