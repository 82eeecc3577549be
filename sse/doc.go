// Package sse implements the HTTP+SSE transport of the Model Context
// Protocol (protocol revision 2024-11-05).
//
// A client opens GET <base>/sse. The handler creates a session and sends an
// "endpoint" event naming the URL for client messages:
//
//	event: endpoint
//	data: /message?sessionId=6f1c...
//
// Messages POSTed there are answered with 202 Accepted. Responses and
// server notifications are delivered as "message" events on the stream. The
// session ends when the stream disconnects.
package sse
