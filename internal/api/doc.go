// Package api holds the shared types exchanged between the orchestration
// engine and its embedding layer: the LaunchSpec consumed per connection
// attempt and the TokenRecord returned from it.
//
// TokenRecord is deliberately result-shaped rather than error-shaped: the
// embedding layer branches on Success/OAuthURL/Error and never needs
// error handling around TriggerOAuth.
package api
