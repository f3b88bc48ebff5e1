// Command gdrive-auth runs the OAuth consent flow once and prints the Drive
// refresh token used by STORAGE_PROVIDER=gdrive.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"edcomposer/internal/config"
	"edcomposer/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a TOML config file (default $EDCOMPOSER_CONFIG)")
	wait := flag.Duration("timeout", 3*time.Minute, "how long to wait for the browser callback")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gdrive-auth:", err)
		return 1
	}
	gd := cfg.Storage.GDrive
	if gd.ClientID == "" || gd.ClientSecret == "" {
		fmt.Fprintln(os.Stderr, "gdrive-auth: GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
		return 1
	}

	token, err := authorize(context.Background(), gd.ClientID, gd.ClientSecret, *wait)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gdrive-auth:", err)
		return 1
	}

	// Google only returns a refresh token on the first consent for a client.
	if strings.TrimSpace(token.RefreshToken) == "" {
		fmt.Println("\nNo refresh_token was returned.")
		fmt.Println("Revoke the app's access at https://myaccount.google.com/permissions and run this command again.")
		return 1
	}

	fmt.Println("\nREFRESH TOKEN (set GDRIVE_REFRESH_TOKEN):")
	fmt.Println(token.RefreshToken)
	return 0
}

// authorize serves the OAuth callback on a free loopback port and exchanges
// the returned code.
func authorize(ctx context.Context, clientID, clientSecret string, wait time.Duration) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)
	conf := storage.DriveOAuthConfig(clientID, clientSecret, redirectURL)
	state := randomState()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- fmt.Errorf("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("missing code")
		default:
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with forced consent yields a refresh token.
	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	fmt.Println("\nOpen this URL in your browser:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization on", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-time.After(wait):
		return nil, fmt.Errorf("timed out waiting for authorization")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
