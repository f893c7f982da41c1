package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// CallbackResult carries the provider's redirect back from the interactive
// agent: either an authorization code with the echoed state, or an error
// code with its description. The agent is untrusted input — the state is
// validated by the Authorizer, not here.
type CallbackResult struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// Agent is the external user-interaction boundary: it presents the
// authorization URL to the user and blocks until the provider redirects
// back, the user cancels, or ctx is done.
type Agent interface {
	Authorize(ctx context.Context, authURL *url.URL, redirectURI string) (*CallbackResult, error)
}

// BrowserAgent opens the system browser and serves the redirect URI on a
// local listener to capture the callback.
type BrowserAgent struct {
	// OpenURL hands the authorization URL to the user's browser. Defaults to
	// opening the system browser.
	OpenURL func(string) error
	log     zerolog.Logger
}

// BrowserAgentOption configures a BrowserAgent.
type BrowserAgentOption func(*BrowserAgent)

// WithAgentLogger sets the logger.
func WithAgentLogger(log zerolog.Logger) BrowserAgentOption {
	return func(a *BrowserAgent) {
		a.log = log
	}
}

// NewBrowserAgent creates a BrowserAgent.
func NewBrowserAgent(opts ...BrowserAgentOption) *BrowserAgent {
	a := &BrowserAgent{
		OpenURL: browser.OpenURL,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize serves the redirect URI, opens the browser at authURL, and
// waits for the provider callback. Cancelling ctx resolves the call with a
// cancellation error rather than leaving it pending.
func (a *BrowserAgent) Authorize(ctx context.Context, authURL *url.URL, redirectURI string) (*CallbackResult, error) {
	redirect, err := url.Parse(redirectURI)
	if err != nil || redirect.Host == "" {
		return nil, &Error{Op: "authorize", Kind: KindProviderError,
			Detail: "redirect URI is not listenable: " + redirectURI, Err: err}
	}

	resultChan := make(chan *CallbackResult, 1)

	mux := http.NewServeMux()
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := &CallbackResult{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			ErrorCode:        q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}

		if result.Code == "" && result.ErrorCode == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			return
		}

		select {
		case resultChan <- result:
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, callbackPage)
		default:
			http.Error(w, "Authorization flow not in progress", http.StatusBadRequest)
		}
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, &Error{Op: "authorize", Kind: KindNetwork,
			Detail: "failed to listen on " + redirect.Host, Err: err}
	}

	server := &http.Server{Handler: mux}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.log.Error().Err(serveErr).Msg("callback server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("url", authURL.String()).Msg("opening browser for authorization")
	if openErr := a.OpenURL(authURL.String()); openErr != nil {
		a.log.Warn().Err(openErr).Msg("could not open browser automatically, visit the URL manually")
	}

	select {
	case result := <-resultChan:
		return result, nil
	case <-ctx.Done():
		return nil, &Error{Op: "authorize", Kind: KindCancelled,
			Detail: "authorization was cancelled before the provider called back", Err: ctx.Err()}
	}
}

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Authorization Complete</title></head>
<body>
	<h1>Authorization Complete</h1>
	<p>You can close this window and return to the application.</p>
</body>
</html>
`
