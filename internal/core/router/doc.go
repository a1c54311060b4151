// Package router implements the request dispatch engine.
//
// A Router holds global stages (middleware) and an ordered list of routes.
// Dispatch walks the global stages, then the stages of the first route whose
// method and pattern match the request. Every stage returns a Result that
// drives the walk:
//
//   - Next continues with the following stage;
//   - Send stops, the stage has filled in the response;
//   - Close stops and tears the connection down after this exchange;
//   - Detach suspends the walk until the stage's Resumer is invoked.
//
// Patterns are tried in registration order and the first match wins, even when
// a later pattern would be more specific:
//
//	r := router.New()
//	r.Use(requestID, audit)
//	r.GET("/hello/:name?", hello)
//	r.GET("/static/*path", static)
//
// The route table must not change once connections are being served.
package router
