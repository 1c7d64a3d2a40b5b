package subscription

import (
	"context"

	"rsvp/pkg/broadcast"
	"rsvp/pkg/model"
)

// HubTransport attaches directly to an in-process hub.
type HubTransport struct {
	Hub *broadcast.Hub
}

func (t HubTransport) Subscribe(_ context.Context, eventID string) (Stream, error) {
	sub, err := t.Hub.Subscribe(eventID)
	if err != nil {
		return nil, err
	}
	return hubStream{sub: sub}, nil
}

type hubStream struct {
	sub *broadcast.Subscription
}

func (s hubStream) Recv(ctx context.Context) (model.CapacityChangeFact, error) {
	select {
	case <-ctx.Done():
		return model.CapacityChangeFact{}, ctx.Err()
	case fact, ok := <-s.sub.C():
		if !ok {
			return model.CapacityChangeFact{}, s.sub.Err()
		}
		return fact, nil
	}
}

func (s hubStream) Close() error {
	s.sub.Unsubscribe()
	return nil
}
