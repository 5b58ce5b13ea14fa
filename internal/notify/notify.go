// Package notify fans out "game changed" hints to live clients.
//
// A Notification carries no game state: receivers re-fetch the view.
package notify

import (
	"context"
	"errors"

	"github.com/cory-johannsen/splendor/internal/game/event"
)

// Notification tells subscribers that a game's view has moved to Version.
type Notification struct {
	GameID    string     `json:"gameId"`
	EventType event.Type `json:"eventType"`
	// Version is the stream sequence of the event that was applied.
	Version uint64 `json:"version"`
}

// Publisher delivers notifications.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n Notification) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
