package entity

import "context"

type ComponentID string

const (
	ComponentFeedReceiver    ComponentID = "feed_receiver"
	ComponentFeedDistributor ComponentID = "feed_distributor"
)

func (c ComponentID) String() string {
	return string(c)
}

// RunFunc is the body of one supervised component run. It must return once ctx is done.
type RunFunc func(ctx context.Context, runID string) error
