package agent

import (
	"context"
	"errors"

	"github.com/entrhq/keeper/pkg/types"
)

// ErrNoFinalResponse is returned when a stream closes without a final event.
var ErrNoFinalResponse = errors.New("agent: no final response")

// FinalResponse reads events until the first final response and returns its
// text. An error event or a stream closing without a final response is an
// error. Events after the first final response are drained and ignored.
func FinalResponse(ctx context.Context, events <-chan *types.Event) (string, error) {
	for {
		select {
		case <-ctx.Done():
			go drain(events)
			return "", ctx.Err()
		case event, ok := <-events:
			if !ok {
				return "", ErrNoFinalResponse
			}
			switch {
			case event.IsErrorEvent():
				go drain(events)
				if event.Error != nil {
					return "", event.Error
				}
				return "", errors.New(event.ErrorMessage)
			case event.IsFinalResponse():
				go drain(events)
				return event.Content, nil
			}
		}
	}
}

func drain(events <-chan *types.Event) {
	for range events {
	}
}
