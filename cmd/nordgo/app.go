package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/asaskevich/EventBus"
	"github.com/google/subcommands"

	"github.com/nordgo/nordgo/internal/api"
	"github.com/nordgo/nordgo/internal/authflow"
	"github.com/nordgo/nordgo/internal/browser"
	"github.com/nordgo/nordgo/internal/config"
	"github.com/nordgo/nordgo/internal/httpx"
	"github.com/nordgo/nordgo/internal/session"
)

const (
	defaultBrokerBaseURL = "https://www.nordnet.dk"
	defaultAPIBaseURL    = "https://api.prod.nntech.io"

	progressTopic = "auth:progress"
)

// app wires the configured components together for one command invocation.
type app struct {
	cfg   *config.Config
	hc    *http.Client
	store *session.Store
	api   *api.Client
	bus   EventBus.Bus
}

func newApp() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *proxyAddr != "" {
		cfg.Proxy = *proxyAddr
	}

	hc, err := httpx.New(httpx.Options{
		SOCKS5Proxy:        cfg.Proxy,
		Timeout:            cfg.HTTPTimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}

	brokerBase := cfg.BrokerBaseURL
	if brokerBase == "" {
		brokerBase = defaultBrokerBaseURL
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = defaultAPIBaseURL
	}

	// Progress updates cross from the flow goroutine to the interactive
	// side over the bus, never through shared state.
	bus := EventBus.New()
	if err := bus.Subscribe(progressTopic, printProgress); err != nil {
		return nil, err
	}
	report := func(state authflow.State, message string) {
		bus.Publish(progressTopic, string(state), message)
	}

	bc := browser.NewClient(hc, cfg.RedirectCeiling)
	controller := authflow.NewController(authflow.Config{
		BrokerBaseURL:   cfg.BrokerBaseURL,
		APIBaseURL:      cfg.APIBaseURL,
		PollInterval:    cfg.PollInterval,
		ApprovalMaxWait: cfg.ApprovalMaxWait,
	}, hc, bc, report, promptStdin)

	store := session.NewStore(cfg.SessionPath, hc, brokerBase+"/api/2/accounts")

	login := func(ctx context.Context) (*session.Artifact, error) {
		return controller.Run(ctx, authflow.Credentials{
			UserID:   cfg.User,
			Method:   cfg.Method,
			Password: os.Getenv("NORDGO_PASSWORD"),
		})
	}

	return &app{
		cfg:   cfg,
		hc:    hc,
		store: store,
		api:   api.New(hc, store, login, brokerBase, apiBase, cfg.User),
		bus:   bus,
	}, nil
}

func printProgress(state, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", state, message)
}

func promptStdin(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	}
}

// fail prints an actionable message for the error class and returns the
// failure exit status.
func fail(err error) subcommands.ExitStatus {
	switch {
	case errors.Is(err, authflow.ErrRejected):
		fmt.Fprintln(os.Stderr, "Login was declined or cancelled. Run 'nordgo login' to try again.")
	case errors.Is(err, authflow.ErrTimedOut):
		fmt.Fprintln(os.Stderr, "The approval request expired. Check the MitID app on your phone and try again.")
	case errors.Is(err, authflow.ErrNetwork):
		fmt.Fprintf(os.Stderr, "Network problem: %v\nThis is usually transient; try again.\n", err)
	case errors.Is(err, authflow.ErrProtocolMismatch):
		fmt.Fprintf(os.Stderr, "Login failed: the provider responded unexpectedly (%v).\nThis usually means the login pages changed and nordgo needs an update.\n", err)
	case errors.Is(err, api.ErrAuthenticationFailed):
		fmt.Fprintln(os.Stderr, "Authentication failed even after re-login. Run 'nordgo login -force'.")
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return subcommands.ExitFailure
}
