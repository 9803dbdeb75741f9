package browser

import (
	"context"
)

type Mouse struct {
	page *Page
}

func (m *Mouse) Click(ctx context.Context, x, y float64, button string, clickCount int) error {
	if button == "" {
		button = "left"
	}
	if clickCount == 0 {
		clickCount = 1
	}
	_, err := m.page.send(ctx, "Input.dispatchMouseEvent", map[string]any{"type": "mousePressed", "x": x, "y": y, "button": button, "clickCount": clickCount})
	if err != nil {
		return err
	}
	_, err = m.page.send(ctx, "Input.dispatchMouseEvent", map[string]any{"type": "mouseReleased", "x": x, "y": y, "button": button, "clickCount": clickCount})
	return err
}

func (m *Mouse) Move(ctx context.Context, x, y float64) error {
	_, err := m.page.send(ctx, "Input.dispatchMouseEvent", map[string]any{"type": "mouseMoved", "x": x, "y": y})
	return err
}
