// Package chat is the chat ingestion pipeline. It keeps an anonymous, read-only
// connection to a Twitch channel, answers keep-alives, reconnects after abnormal
// closures and converts subscriptions and bits into add-time commands for the engine.
//
// Two transports implement the connection contract: WSDialer speaks the IRC protocol
// over a WebSocket (the default) and IRCDialer uses the go-twitch-irc anonymous client.
package chat
