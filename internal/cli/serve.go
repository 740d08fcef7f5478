package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/panyam/authsession/devserver"
	authgrpc "github.com/panyam/authsession/grpc"
	"github.com/panyam/authsession/internal/config"
	gormstore "github.com/panyam/authsession/stores/gorm"
)

func serveCmd(a *app) *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		Long: `Run the development backend on server.addr.

Accounts can be seeded with --user email:password[:role], repeated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, closeAccounts, err := a.newDevServer()
			if err != nil {
				return err
			}
			defer closeAccounts()

			for _, u := range users {
				if err := seedUser(ctx, srv, u); err != nil {
					return err
				}
			}
			return a.serve(ctx, srv)
		},
	}
	cmd.Flags().StringArrayVar(&users, "user", nil, "seed an account as email:password[:role]")

	return cmd
}

// newDevServer builds the development backend from the server settings.
func (a *app) newDevServer() (*devserver.Server, func() error, error) {
	sc := a.cfg.Server
	if err := config.ValidateServer(sc); err != nil {
		return nil, nil, err
	}

	srv := devserver.NewServer(sc.JWTSecret)
	srv.JWTIssuer = sc.JWTIssuer
	srv.AccessTokenExpiry = sc.TokenExpiry
	srv.DefaultRole = sc.DefaultRole
	srv.RequireConfirmation = sc.RequireConfirmation
	srv.ResetURL = sc.ResetURL

	closeAccounts := func() error { return nil }
	if sc.Accounts.Driver != config.DriverMemory {
		db, closeDB, err := openDB(sc.Accounts)
		if err != nil {
			return nil, nil, err
		}
		srv.Accounts = gormstore.NewAccountStore(db)
		closeAccounts = closeDB
	}
	return srv, closeAccounts, nil
}

func seedUser(ctx context.Context, srv *devserver.Server, entry string) error {
	parts := strings.SplitN(entry, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid --user %q, want email:password[:role]", entry)
	}
	role := ""
	if len(parts) == 3 {
		role = parts[2]
	}
	acct, err := srv.AddUser(ctx, parts[0], parts[1], role, "")
	if err != nil {
		return fmt.Errorf("seeding %s: %w", parts[0], err)
	}
	log.Info().Str("email", acct.Email).Str("role", acct.Role).Msg("seeded account")
	return nil
}

// handler mounts the backend routes and the metrics endpoint.
func (a *app) handler(srv *devserver.Server) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, c := range srv.Collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(
		prometheus.Gatherers{reg, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	))
	mux.Handle("/", srv.Handler())
	return mux, nil
}

// grpcServer serves the health service behind the bearer token interceptors.
// Check stays public so load balancers can probe it.
func grpcServer(srv *devserver.Server) *grpc.Server {
	validate := func(_ context.Context, token string) (string, error) {
		return srv.ValidateAccessToken(token)
	}
	cfg := authgrpc.NewPublicMethodsConfig(validate, healthpb.Health_Check_FullMethodName)

	s := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(cfg)),
		grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(cfg)),
	)
	healthpb.RegisterHealthServer(s, health.NewServer())
	return s
}

func (a *app) serve(ctx context.Context, srv *devserver.Server) error {
	sc := a.cfg.Server

	h, err := a.handler(srv)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              sc.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcLis net.Listener
	if sc.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", sc.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", sc.Addr).Str("metrics", sc.MetricsPath).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var gs *grpc.Server
	if grpcLis != nil {
		gs = grpcServer(srv)
		g.Go(func() error {
			log.Info().Str("addr", sc.GRPCAddr).Msg("grpc server listening")
			return gs.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		if gs != nil {
			gs.GracefulStop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
