package generation

import (
	"sync"
	"time"
)

type Scope string

const (
	ScopeSource     Scope = "source"
	ScopeControls   Scope = "controls"
	ScopeGenerate   Scope = "generate"
	ScopeRegenerate Scope = "regenerate"
)

var Scopes = []Scope{ScopeSource, ScopeControls, ScopeGenerate, ScopeRegenerate}

func ParseScope(raw string) (Scope, bool) {
	for _, s := range Scopes {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

type AlertKind string

const (
	AlertInfo    AlertKind = "info"
	AlertSuccess AlertKind = "success"
	AlertWarning AlertKind = "warning"
	AlertError   AlertKind = "error"
)

type Alert struct {
	Scope     Scope     `json:"scope"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	IsVisible bool      `json:"isVisible"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Live reports how assistive technology should announce the alert.
func (a Alert) Live() string {
	if a.Kind == AlertError {
		return "assertive"
	}
	return "polite"
}

type Timer interface {
	Stop() bool
}

// Scheduler runs delayed callbacks. Tests substitute a manual clock.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) Now() time.Time { return time.Now() }

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler is backed by the runtime timers.
func SystemScheduler() Scheduler { return systemScheduler{} }

type AlertChange struct {
	Alert   Alert `json:"alert"`
	Removed bool  `json:"removed"`
}

type alertEntry struct {
	alert Alert
	gen   uint64
	timer Timer
}

// AlertCenter holds at most one alert per scope. Non-error alerts turn
// invisible after visibleFor and are removed fadeFor later; errors stay until
// dismissed or replaced.
type AlertCenter struct {
	sched      Scheduler
	visibleFor time.Duration
	fadeFor    time.Duration
	onChange   func(AlertChange)

	mu     sync.Mutex
	gen    uint64
	active map[Scope]*alertEntry
	closed bool
}

func NewAlertCenter(sched Scheduler, visibleFor, fadeFor time.Duration, onChange func(AlertChange)) *AlertCenter {
	if sched == nil {
		sched = SystemScheduler()
	}
	if onChange == nil {
		onChange = func(AlertChange) {}
	}
	return &AlertCenter{
		sched:      sched,
		visibleFor: visibleFor,
		fadeFor:    fadeFor,
		onChange:   onChange,
		active:     map[Scope]*alertEntry{},
	}
}

func (c *AlertCenter) Issue(scope Scope, kind AlertKind, message string) Alert {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Alert{}
	}
	if prev, ok := c.active[scope]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	c.gen++
	gen := c.gen
	entry := &alertEntry{
		alert: Alert{
			Scope:     scope,
			Kind:      kind,
			Message:   message,
			IsVisible: true,
			IssuedAt:  c.sched.Now(),
		},
		gen: gen,
	}
	c.active[scope] = entry
	if kind != AlertError {
		entry.timer = c.sched.AfterFunc(c.visibleFor, func() { c.hide(scope, gen) })
	}
	alert := entry.alert
	c.mu.Unlock()

	c.onChange(AlertChange{Alert: alert})
	return alert
}

func (c *AlertCenter) hide(scope Scope, gen uint64) {
	c.mu.Lock()
	entry, ok := c.active[scope]
	if !ok || entry.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	entry.alert.IsVisible = false
	entry.timer = c.sched.AfterFunc(c.fadeFor, func() { c.remove(scope, gen) })
	alert := entry.alert
	c.mu.Unlock()

	c.onChange(AlertChange{Alert: alert})
}

func (c *AlertCenter) remove(scope Scope, gen uint64) {
	c.mu.Lock()
	entry, ok := c.active[scope]
	if !ok || entry.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.active, scope)
	alert := entry.alert
	c.mu.Unlock()

	c.onChange(AlertChange{Alert: alert, Removed: true})
}

// Dismiss clears the alert in scope immediately.
func (c *AlertCenter) Dismiss(scope Scope) bool {
	c.mu.Lock()
	entry, ok := c.active[scope]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(c.active, scope)
	alert := entry.alert
	alert.IsVisible = false
	c.mu.Unlock()

	c.onChange(AlertChange{Alert: alert, Removed: true})
	return true
}

func (c *AlertCenter) Get(scope Scope) (Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.active[scope]
	if !ok {
		return Alert{}, false
	}
	return entry.alert, true
}

// List returns active alerts in scope order.
func (c *AlertCenter) List() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, 0, len(c.active))
	for _, s := range Scopes {
		if entry, ok := c.active[s]; ok {
			out = append(out, entry.alert)
		}
	}
	return out
}

func (c *AlertCenter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, entry := range c.active {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	c.active = map[Scope]*alertEntry{}
}
