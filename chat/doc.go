// Package chat connects the bot to a Twitch channel over IRC.
//
// Incoming PRIVMSGs are converted into bot.Event values and delivered on the
// Events channel. Messages carrying the pinned-chat-paid-amount tag (Hype
// Chat) are marked as pinned so the donation detector considers them.
// Outbound text is sent with Send, which the rate-limited outbound queue
// calls; while disconnected Send fails with ErrNotConnected and the queue
// retries.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. The token may be replaced at runtime with
// SetToken when the OAuth refresher rotates it; the next reconnect uses it.
package chat
