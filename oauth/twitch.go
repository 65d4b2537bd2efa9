package oauth

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// ProviderTwitch is the oauth_tokens key for the bot's chat credential.
const ProviderTwitch = "twitch"

// TwitchConfig builds the authorization-code config for the bot account.
func TwitchConfig(clientID, clientSecret, redirectURI, scopes string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(scopes),
		Endpoint:     twitch.Endpoint,
	}
}

// TwitchRefresh returns a RefreshFunc backed by cfg's token endpoint.
func TwitchRefresh(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		// An empty access token forces the source to hit the token endpoint.
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	}
}
