package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oidcflow/oidcflow/auth"
)

var (
	configPath string
	manualMode bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oidcflow",
		Short:         "OAuth 2.0 / OIDC authorization-code client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	login := &cobra.Command{
		Use:   "login",
		Short: "Authorize with the provider (registers the client first if no client ID is configured)",
		RunE:  runLogin,
	}
	login.Flags().BoolVar(&manualMode, "manual", false, "store the authorization code without exchanging it")

	root.AddCommand(
		login,
		&cobra.Command{
			Use:   "exchange",
			Short: "Exchange the stored authorization code for tokens",
			RunE:  runExchange,
		},
		&cobra.Command{
			Use:   "userinfo",
			Short: "Fetch the userinfo endpoint with a fresh access token",
			RunE:  runUserInfo,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current authorization state",
			RunE:  runStatus,
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Clear the saved session",
			RunE:  runLogout,
		},
	)
	return root
}

// session bundles the wired components for one provider configuration.
type session struct {
	cfg      *auth.Config
	manager  *auth.Manager
	executor *auth.Executor
	log      zerolog.Logger
}

func newSession() (*session, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := auth.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	store := auth.NewFileStore(cfg.StateDir, cfg.Issuer)
	exchanger := auth.NewExchanger(auth.WithExchangerLogger(log))
	manager := auth.NewManager(store, exchanger, auth.WithManagerLogger(log))
	if _, err := manager.Load(); err != nil {
		return nil, err
	}

	manager.AddObserver(func(s *auth.AuthState) {
		log.Info().Bool("authorized", s.IsAuthorized()).Msg("auth state changed")
	})

	return &session{
		cfg:      cfg,
		manager:  manager,
		executor: auth.NewExecutor(manager, auth.WithExecutorLogger(log)),
		log:      log,
	}, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	discoverer := auth.NewDiscoverer(auth.WithDiscovererLogger(s.log))
	cfg, err := discoverer.Discover(ctx, s.cfg.Issuer)
	if err != nil {
		return err
	}

	clientID, clientSecret := s.cfg.ClientID, s.cfg.ClientSecret
	if s.cfg.UseDynamicRegistration() {
		registrar := auth.NewRegistrar(s.manager,
			auth.WithRegistrarLogger(s.log), auth.WithClientName("oidcflow"))
		reg, regErr := registrar.Register(ctx, cfg, []string{s.cfg.RedirectURI}, "")
		if regErr != nil {
			return regErr
		}
		clientID, clientSecret = reg.ClientID, reg.ClientSecret
	}

	mode := auth.ExchangeAuto
	if manualMode {
		mode = auth.ExchangeManual
	}

	authorizer := auth.NewAuthorizer(
		auth.NewBrowserAgent(auth.WithAgentLogger(s.log)),
		auth.NewExchanger(auth.WithExchangerLogger(s.log)),
		s.manager,
		auth.WithAuthorizerLogger(s.log),
	)

	state, err := authorizer.Authorize(ctx, auth.AuthorizeInput{
		Configuration: cfg,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Scopes:        s.cfg.Scopes,
		RedirectURI:   s.cfg.RedirectURI,
		Mode:          mode,
	})
	if err != nil {
		return err
	}

	if manualMode {
		fmt.Println("authorization code stored; run `oidcflow exchange` to obtain tokens")
		return nil
	}
	printState(state)
	return nil
}

func runExchange(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	state, err := s.manager.CompleteExchange(cmd.Context())
	if err != nil {
		return err
	}
	printState(state)
	return nil
}

func runUserInfo(cmd *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	body, err := s.executor.UserInfo(ctx)
	if err != nil {
		return err
	}

	var pretty map[string]interface{}
	if json.Unmarshal(body, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(string(body))
	return nil
}

func runStatus(_ *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	printState(s.manager.Current())
	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	if s.manager.Current() == nil {
		fmt.Println("no saved session")
		return nil
	}
	if err := s.manager.Replace(nil); err != nil {
		return err
	}
	fmt.Println("session cleared")
	return nil
}

func printState(state *auth.AuthState) {
	if state == nil {
		fmt.Println("not authenticated")
		return
	}

	fmt.Printf("authorized: %v\n", state.IsAuthorized())
	if state.Registration != nil {
		fmt.Printf("client id:  %s (dynamically registered)\n", state.Registration.ClientID)
	}
	if tok := state.LastTokenResponse; tok != nil {
		if tok.Expiry.IsZero() {
			fmt.Println("access token: present (no expiry)")
		} else {
			fmt.Printf("access token: expires %s\n", tok.Expiry.Format(time.RFC3339))
		}
		fmt.Printf("refresh token: %v\n", tok.RefreshToken != "")
	} else if state.LastAuthorizationResponse != nil {
		fmt.Println("authorization code stored, not yet exchanged")
	}
	if state.AuthorizationError != nil {
		fmt.Printf("authorization error: %s\n", state.AuthorizationError.Error())
	}
}
