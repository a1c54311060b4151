// Package shutdown coordinates graceful process termination.
//
// A Handler waits for SIGINT, SIGTERM, a cancelled context or an explicit
// Trigger, then runs the registered hooks in reverse order under a shared
// timeout.
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("pool", pool.Shutdown)
//	err := h.Wait(ctx)
package shutdown
