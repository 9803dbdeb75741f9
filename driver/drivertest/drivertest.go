// Package drivertest provides an in-memory page fixture implementing the
// driver interfaces, for testing code that automates a browser without
// starting one.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/naylin209/instalogin/driver"
)

type visibility int

const (
	always visibility = iota
	afterOpen
	afterSubmit
)

// FakeElement is one element of the fixture page.
type FakeElement struct {
	Selector string
	value    string
	clicks   int
	visible  visibility
	delay    time.Duration
}

// Fixture is a scripted page. Elements are registered up front and become
// queryable either immediately, some time after the session opened, or some
// time after a form submission (Enter pressed on any element).
type Fixture struct {
	// OpenErr, NavigateErr and MaximizeErr make the corresponding operation
	// fail.
	OpenErr     error
	NavigateErr error
	MaximizeErr error
	// Snapshot is returned by Inspect when set.
	Snapshot *driver.Snapshot

	mu          sync.Mutex
	elements    map[string]*FakeElement
	actions     []string
	openedAt    time.Time
	submittedAt time.Time
	opens       int
	closes      int
	open        bool
}

func New() *Fixture {
	return &Fixture{elements: make(map[string]*FakeElement)}
}

// Add registers an element that is present as soon as the page loads.
func (f *Fixture) Add(selector, value string) *Fixture {
	return f.add(&FakeElement{Selector: selector, value: value, visible: always})
}

// AddAfter registers an element that appears delay after the session opens.
func (f *Fixture) AddAfter(selector string, delay time.Duration) *Fixture {
	return f.add(&FakeElement{Selector: selector, visible: afterOpen, delay: delay})
}

// AddOnSubmit registers an element that appears delay after a submission.
func (f *Fixture) AddOnSubmit(selector string, delay time.Duration) *Fixture {
	return f.add(&FakeElement{Selector: selector, visible: afterSubmit, delay: delay})
}

func (f *Fixture) add(el *FakeElement) *Fixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[el.Selector] = el
	return f
}

// Value returns the current value of the element registered for selector.
func (f *Fixture) Value(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el, ok := f.elements[selector]; ok {
		return el.value
	}
	return ""
}

// Clicks returns how many times the element for selector was clicked.
func (f *Fixture) Clicks(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el, ok := f.elements[selector]; ok {
		return el.clicks
	}
	return 0
}

// Actions returns the recorded operations, e.g. "type input[name='username']".
// Typed text is not recorded.
func (f *Fixture) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

// Opens and Closes count session acquisitions and releases.
func (f *Fixture) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *Fixture) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Fixture) record(format string, args ...any) {
	f.actions = append(f.actions, fmt.Sprintf(format, args...))
}

func (f *Fixture) Open(context.Context) (driver.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open")
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.opens++
	f.open = true
	f.openedAt = time.Now()
	f.submittedAt = time.Time{}
	return &session{fixture: f}, nil
}

type session struct {
	fixture *Fixture
}

func (s *session) Navigate(_ context.Context, url string) error {
	f := s.fixture
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	return f.NavigateErr
}

func (s *session) Maximize(context.Context) error {
	f := s.fixture
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("maximize")
	return f.MaximizeErr
}

func (s *session) Query(ctx context.Context, selector string) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := s.fixture
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, fmt.Errorf("session closed")
	}
	el, ok := f.elements[selector]
	if !ok || !f.visibleLocked(el, time.Now()) {
		return nil, nil
	}
	return &element{fixture: f, el: el}, nil
}

func (f *Fixture) visibleLocked(el *FakeElement, now time.Time) bool {
	switch el.visible {
	case afterOpen:
		return !now.Before(f.openedAt.Add(el.delay))
	case afterSubmit:
		return !f.submittedAt.IsZero() && !now.Before(f.submittedAt.Add(el.delay))
	default:
		return true
	}
}

func (s *session) Inspect(context.Context) (*driver.Snapshot, error) {
	f := s.fixture
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inspect")
	if f.Snapshot == nil {
		return &driver.Snapshot{}, nil
	}
	snap := *f.Snapshot
	return &snap, nil
}

func (s *session) Close() error {
	f := s.fixture
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close")
	f.closes++
	f.open = false
	return nil
}

type element struct {
	fixture *Fixture
	el      *FakeElement
}

func (e *element) Clear(context.Context) error {
	e.fixture.mu.Lock()
	defer e.fixture.mu.Unlock()
	e.fixture.record("clear %s", e.el.Selector)
	e.el.value = ""
	return nil
}

func (e *element) Type(_ context.Context, text string) error {
	e.fixture.mu.Lock()
	defer e.fixture.mu.Unlock()
	e.fixture.record("type %s", e.el.Selector)
	e.el.value += text
	return nil
}

func (e *element) Press(_ context.Context, key string) error {
	e.fixture.mu.Lock()
	defer e.fixture.mu.Unlock()
	e.fixture.record("press %s %s", key, e.el.Selector)
	if key == driver.KeyEnter {
		e.fixture.submittedAt = time.Now()
	}
	return nil
}

func (e *element) Click(context.Context) error {
	e.fixture.mu.Lock()
	defer e.fixture.mu.Unlock()
	e.fixture.record("click %s", e.el.Selector)
	e.el.clicks++
	return nil
}
