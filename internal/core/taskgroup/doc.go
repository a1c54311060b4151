// Package taskgroup provides a bounded task group with cooperative
// cancellation and a barrier join.
//
// A Group admits at most Capacity tasks at a time. Callers that launch a task
// while the group is full are suspended in FIFO order until a slot frees up:
//
//	g := taskgroup.New(4)
//	f, err := g.Go(ctx, func(ctx context.Context) error {
//	    return fetch(ctx)
//	})
//	...
//	_ = g.Join(ctx)
//
// Cancellation is advisory. Emit cancels the context of every live task with a
// *CancelledError cause; a task observes it only when it next waits on its
// context. Join waits for the live set to drain. If the joining caller is
// cancelled, Join cancels every child and keeps waiting instead of returning
// the caller's cancellation.
//
// Failures of individual tasks are returned to whoever awaits them (the caller
// of an adapted task, or Future.Wait) and are never recorded by the group.
package taskgroup
