// Package push provides [gateway.Source] implementations that deliver
// provider session events to the session manager.
//
// [RedisSource] uses Redis Pub/Sub and doubles as the bus through which
// processes on one device coordinate sign-in and sign-out. [WebSocketSource]
// reads events from a provider websocket endpoint.
package push
