package couch

import "context"

// Result is the outcome of an operation started with Go.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn on its own goroutine and delivers its outcome on the returned
// channel, which receives exactly one Result and is then closed. It lets
// callers issue several requests without waiting for each in turn:
//
//	uuids := couch.Go(ctx, func(ctx context.Context) ([]string, error) {
//	  return client.GenerateUUIDs(ctx, 10)
//	})
//	info := couch.Go(ctx, func(ctx context.Context) (*couch.DatabaseInfo, error) {
//	  return db.Info(ctx, nil)
//	})
//	r := <-uuids
//
// There is no ordering between the completions of different calls.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}
