// Package main provides the Spotify authorization tool that issues the refresh token
// used by the server to resolve Spotify track references.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/retune/internal/infra/logger"
)

var (
	app          = kingpin.New("retune-auth", "Spotify authorization tool for retune")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
)

// callbackHandler completes the authorization code flow.
type callbackHandler struct {
	auth   *spotifyauth.Authenticator
	state  string
	tokens chan<- *oauth2.Token
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != h.state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		zlog.Warn().Msgf("auth: state mismatch: got=%s", st)
		return
	}

	token, err := h.auth.Token(r.Context(), h.state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		zlog.Error().Msgf("auth: failed to get token: %v", err)
		return
	}

	fmt.Fprint(w, "retune: authorization complete. You can close this window and return to the terminal.\n")

	select {
	case h.tokens <- token:
	default:
	}
}

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Output: "stderr", Level: "info"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	token, err := authorize(*clientID, *clientSecret, *port)
	if err != nil {
		zlog.Fatal().Msgf("Authorization failed: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Println("Add this to your server.yaml:")
	fmt.Println("")
	fmt.Println("spotify:")
	fmt.Printf("  refresh_token: \"%s\"\n", token.RefreshToken)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export SPOTIFY_REFRESH_TOKEN=\"%s\"\n", token.RefreshToken)
}

// authorize runs a local callback server and waits for the user to grant access.
func authorize(id, secret string, port int) (*oauth2.Token, error) {
	// Track lookups need no user scopes
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(fmt.Sprintf("http://127.0.0.1:%d/callback", port)),
		spotifyauth.WithClientID(id),
		spotifyauth.WithClientSecret(secret),
	)

	tokens := make(chan *oauth2.Token, 1)
	state := uuid.New().String()

	mux := http.NewServeMux()
	mux.Handle("/callback", &callbackHandler{auth: auth, state: state, tokens: tokens})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	fmt.Println("Please visit the following URL to authorize retune:")
	fmt.Println("")
	fmt.Println(auth.AuthURL(state))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	var (
		token *oauth2.Token
		err   error
	)
	select {
	case token = <-tokens:
	case err = <-serverErrCh:
		err = errors.Wrap(err, "callback server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		zlog.Warn().Msgf("auth: failed to shutdown callback server: %v", shutdownErr)
	}

	return token, err
}
