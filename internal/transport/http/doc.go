// Package http implements the HTTP handlers of the promotions workflow.
// Handlers stay thin: they parse the request, call the workflow service and
// render the result, leaving every domain decision to the service layer.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → WorkflowService → Session
//
// # Error Handling
//
// Errors are passed to the shared ErrorHandler, which renders RFC 7807
// problem details. Confirmation refusals carry a machine-readable reason:
//
//	{
//	    "type": "/errors/confirmation/precondition",
//	    "title": "Confirmation Refused",
//	    "status": 409,
//	    "detail": "Please select a country first",
//	    "reason": "no_market",
//	    "instance": "/api/sessions/5f0c.../confirm"
//	}
//
// # WebSocket Support
//
// /ws?session=<id> subscribes a client to the activity and push events of
// one session.
package http
