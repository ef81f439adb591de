// Package worker implements the device-side reporting flow: resolve a
// session from a shared link, collect the worker's identity, then stream
// position fixes into the session's live-location entry until stopped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"fieldtrack/db"
	"fieldtrack/models"
)

var (
	// ErrInvalidLink means no session id could be resolved from the
	// incoming link. Terminal: the worker must re-acquire the link.
	ErrInvalidLink = errors.New("invalid link: no session id")

	// ErrUnsupportedDevice means the device has no location capability.
	ErrUnsupportedDevice = errors.New("geolocation is not supported on this device")

	// ErrMissingIdentity rejects a start without both name and phone.
	ErrMissingIdentity = errors.New("name and phone are required")

	// ErrBadState rejects an operation the current state does not allow.
	ErrBadState = errors.New("operation not allowed in current state")
)

// State is the client's lifecycle position. NoSession and Stopped are
// terminal.
type State int

const (
	StateNoSession State = iota
	StateAwaitingConsent
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "NoSession"
	case StateAwaitingConsent:
		return "AwaitingConsent"
	case StateTracking:
		return "Tracking"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fix is one position sample from the device.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy float64
	Speed    *float64
	Ts       int64
}

// WatchOptions mirror the acquisition knobs of the continuous watch
// primitive.
type WatchOptions struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	Timeout      time.Duration
}

// LocationProvider is the continuous position source. Watch delivers fixes
// to onFix and per-sample failures to onError until the returned stop
// function is called. A failed sample does not end the watch.
type LocationProvider interface {
	Watch(ctx context.Context, opts WatchOptions, onFix func(Fix), onError func(error)) (stop func(), err error)
}

// Identity is what the worker submits before tracking starts.
type Identity struct {
	Name  string
	Phone string
	Role  string
}

// Client drives one device's reporting session.
type Client struct {
	dm       *db.DataModel
	provider LocationProvider
	onStatus func(string)

	mu        sync.Mutex
	state     State
	sessionID string
	workerID  string
	identity  Identity
	stopWatch func()
}

// SessionIDFromLink extracts the session id from a worker entry link.
// Absence of the `session` query parameter is the invalid-link condition.
func SessionIDFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidLink, err)
	}
	sessionID := u.Query().Get("session")
	if sessionID == "" {
		return "", ErrInvalidLink
	}
	return sessionID, nil
}

// New builds a client from the incoming link. When the link carries no
// session id the client starts (and stays) in NoSession with reporting
// disabled, matching the kiosk flow: the user is told to re-scan.
func New(dm *db.DataModel, link string, provider LocationProvider, onStatus func(string)) *Client {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	c := &Client{dm: dm, provider: provider, onStatus: onStatus}

	sessionID, err := SessionIDFromLink(link)
	if err != nil {
		c.state = StateNoSession
		c.onStatus("Invalid link. Please scan a valid QR code from the kiosk.")
		return c
	}
	c.sessionID = sessionID
	c.state = StateAwaitingConsent
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the resolved session id, empty in NoSession.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// WorkerID returns the generated worker id, empty before Start.
func (c *Client) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerID
}

// Start registers the identity under the session and begins continuous
// acquisition: high accuracy, no cached fixes, 15 seconds per sample. Each
// fix overwrites the worker's live-location entry wholesale. Sample
// failures surface as status text and do not leave Tracking.
func (c *Client) Start(ctx context.Context, identity Identity) error {
	if identity.Name == "" || identity.Phone == "" {
		return ErrMissingIdentity
	}

	c.mu.Lock()
	switch c.state {
	case StateNoSession:
		c.mu.Unlock()
		return ErrInvalidLink
	case StateTracking, StateStopped:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, c.state)
	}
	if c.provider == nil {
		c.mu.Unlock()
		return ErrUnsupportedDevice
	}
	c.identity = identity
	c.workerID = models.NewWorkerID()
	sessionID, workerID := c.sessionID, c.workerID
	c.mu.Unlock()

	var role *string
	if identity.Role != "" {
		role = &identity.Role
	}
	err := c.dm.RegisterSessionUser(ctx, sessionID, workerID, models.SessionUser{
		Name:  identity.Name,
		Phone: identity.Phone,
		Role:  role,
	})
	if err != nil {
		return err
	}

	c.onStatus("Requesting GPS permission...")

	opts := WatchOptions{HighAccuracy: true, MaximumAge: 0, Timeout: 15 * time.Second}
	stop, err := c.provider.Watch(ctx,
		opts,
		func(fix Fix) { c.report(ctx, fix) },
		func(err error) {
			// Transient: the watch keeps running and retries.
			c.onStatus("Error getting location: " + err.Error())
		},
	)
	if err != nil {
		return fmt.Errorf("failed to start location watch: %w", err)
	}

	c.mu.Lock()
	c.stopWatch = stop
	c.state = StateTracking
	c.mu.Unlock()
	return nil
}

func (c *Client) report(ctx context.Context, fix Fix) {
	c.mu.Lock()
	if c.state != StateTracking {
		c.mu.Unlock()
		return
	}
	sessionID, workerID, identity := c.sessionID, c.workerID, c.identity
	c.mu.Unlock()

	ts := fix.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	var role *string
	if identity.Role != "" {
		role = &identity.Role
	}
	active := true
	loc := models.LiveLocation{
		Name:        identity.Name,
		Phone:       identity.Phone,
		Role:        role,
		Lat:         &fix.Lat,
		Lng:         &fix.Lng,
		Accuracy:    fix.Accuracy,
		LastUpdated: ts,
		Active:      &active,
	}
	if err := c.dm.SetLiveLocation(ctx, sessionID, workerID, loc); err != nil {
		c.onStatus("Error saving location: " + err.Error())
		return
	}
	c.onStatus(fmt.Sprintf("Tracking active. Lat: %.5f, Lng: %.5f (updated just now)", fix.Lat, fix.Lng))
}

// Stop cancels acquisition and marks the live-location entry inactive.
// The mark is best-effort: the device may disappear before it commits, so
// a failure only logs. Stop is terminal and idempotent.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateTracking {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	stop := c.stopWatch
	c.stopWatch = nil
	sessionID, workerID := c.sessionID, c.workerID
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err := c.dm.MarkLocationInactive(ctx, sessionID, workerID); err != nil {
		log.Printf("Warning: failed to mark %s inactive in session %s: %v", workerID, sessionID, err)
	}
	c.onStatus("Tracking stopped. You may close this page.")
}
