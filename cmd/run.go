package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/config"
	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/enrich"
	"github.com/pliu/friends/internal/handlers"
	"github.com/pliu/friends/internal/middleware"
	"github.com/pliu/friends/internal/notify"
	"github.com/pliu/friends/internal/store/sqlstore"
	"github.com/pliu/friends/internal/swarm"
	"github.com/pliu/friends/internal/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the swarm and serve the local view",
	Args:  cobra.NoArgs,
	RunE:  runFriends,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("listen", ":7000", "address accepting peer links")
	runCmd.Flags().StringSlice("peer", nil, "bootstrap peer, e.g. ws://10.0.0.2:7000 (repeatable)")
	runCmd.Flags().Int("max-peers", swarm.DefaultMaxPeers, "maximum number of peer links")
	runCmd.Flags().String("view", "127.0.0.1:8080", "address serving the local view")
	runCmd.Flags().Bool("anonymous", false, "send unsigned messages")

	_ = viper.BindPFlag("swarm.listen", runCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("swarm.peers", runCmd.Flags().Lookup("peer"))
	_ = viper.BindPFlag("swarm.max-peers", runCmd.Flags().Lookup("max-peers"))
	_ = viper.BindPFlag("view.listen", runCmd.Flags().Lookup("view"))
	_ = viper.BindPFlag("user.anonymous", runCmd.Flags().Lookup("anonymous"))
}

func runFriends(_ *cobra.Command, _ []string) error {
	id, err := auth.LoadOrCreate(cfg.IdentityFile)
	if err != nil {
		return err
	}

	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer store.Close()

	var signer *auth.Identity
	if cfg.Signed() {
		signer = id
	}
	sw := swarm.New(swarm.Config{
		Store:    store,
		Identity: signer,
		MaxPeers: cfg.MaxPeers,
		Peers:    cfg.Peers,
	})
	defer sw.Close()

	username := cfg.DisplayName(id.ShortID())
	log.Printf("Chatting as %s", username)
	e := engine.New(engine.Config{
		Username:  username,
		Transport: sw,
		Store:     store,
		Enricher:  enrich.New(nil),
		Notifier:  notify.New(cfg.Notifications, enrich.DefaultAvatar),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(e, sw, cfg.RefreshInterval)
	hub.AllowOrigins(cfg.AllowedOrigins)
	go hub.Run(ctx)

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware, middleware.LocalOnly)
	handlers.Register(r, hub, &handlers.UserHandler{
		Hub: hub,
		OnUsername: func(name string) error {
			return config.PersistUsername(cfg.File, name)
		},
	})
	r.PathPrefix("/").Handler(staticFiles())

	view := &http.Server{Addr: cfg.ViewListen, Handler: middleware.CORS(cfg.AllowedOrigins)(r)}
	peers := &http.Server{Addr: cfg.SwarmListen, Handler: middleware.LoggingMiddleware(sw.Handler())}

	errs := make(chan error, 2)
	go func() {
		log.Println("Accepting peers on", cfg.SwarmListen)
		errs <- peers.ListenAndServe()
	}()
	go func() {
		log.Println("Serving view on", cfg.ViewListen)
		errs <- view.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		log.Printf("Error serving: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	view.Shutdown(shutdownCtx)
	peers.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// staticFiles serves the view from ./static with caching disabled for scripts
// and styles.
func staticFiles() http.Handler {
	files := http.FileServer(http.Dir("static"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}
		files.ServeHTTP(w, r)
	})
}
