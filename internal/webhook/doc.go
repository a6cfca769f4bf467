// Package webhook accepts comment events from the ticket system and turns
// @mentions into dispatch triggers.
//
// Every endpoint verifies an HMAC-SHA256 signature over the raw body with
// its own secret before the body is parsed. Failed verification always
// answers a generic 403.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8412"
//	  endpoints:
//	    - name: tracker
//	      path: /webhook/comments
//	      secret: ${TRACKER_WEBHOOK_SECRET}
//	      signature_header: X-Switchyard-Signature
//	      max_body_size: 1048576
//
// # Payload
//
//	{"ticketId": "t-42", "author": "mj", "body": "@Rita can you dig into this?", "urgent": false}
//
// Each distinct @name in the body becomes one mention trigger. An urgent
// comment without mentions routes by phase with the urgent cooldown window.
// Comments written by switchyard itself are ignored.
//
// # Responses
//
//   - 202 Accepted: triggers routed (body lists the outcome per mention)
//   - 200 OK: nothing to route
//   - 400 Bad Request: malformed JSON or missing ticketId
//   - 403 Forbidden: missing or invalid signature
//   - 404 Not Found: unknown ticket
//   - 413 Payload Too Large: body exceeds max_body_size
package webhook
