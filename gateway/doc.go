// Package gateway defines the boundary to the identity provider.
//
// The session manager only orchestrates calls through [Gateway] and reacts to
// [PushEvent] values delivered through [Gateway.Subscribe]. Adapters live in
// sub-packages: memory (in-process, seeded demo users), kratos (Ory Kratos
// native flows), and push (Redis Pub/Sub and WebSocket event sources that can
// be attached to any gateway with [WithPush]).
package gateway
