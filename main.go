package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "mailrecall-backend/cmd/api"
	authdomain "mailrecall-backend/internal/auth/domain"
	authrepository "mailrecall-backend/internal/auth/repository"
	authusecase "mailrecall-backend/internal/auth/usecase"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/usecase"
	"mailrecall-backend/pkg/config"
	"mailrecall-backend/pkg/crypto"
	"mailrecall-backend/pkg/database"
	"mailrecall-backend/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mailrecall",
		Short:         "Semantic search over mailbox content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	var owner string

	ingestCmd := &cobra.Command{
		Use:   "ingest [email-id...]",
		Short: "Embed and store the given emails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
				result, err := app.Ingestor.Ingest(ctx, owner, args)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	ingestCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	_ = ingestCmd.MarkFlagRequired("owner")

	var (
		searchLimit     int
		searchThreshold float64
	)
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a semantic search for one owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := usecase.SearchRequest{OwnerID: owner, Query: args[0], Limit: searchLimit}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &searchThreshold
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
				resp, err := app.Searcher.Search(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	searchCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (0 uses SEARCH_DEFAULT_LIMIT)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "Minimum similarity in [0,1]")
	_ = searchCmd.MarkFlagRequired("owner")

	var suggestLimit int
	suggestCmd := &cobra.Command{
		Use:   "suggest [input]",
		Short: "List query suggestions from search history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
				suggestions, err := app.History.Suggestions(ctx, owner, input, suggestLimit)
				if err != nil {
					return err
				}
				for _, s := range suggestions {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
	suggestCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	suggestCmd.Flags().IntVarP(&suggestLimit, "limit", "n", 5, "Maximum number of suggestions")
	_ = suggestCmd.MarkFlagRequired("owner")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the embedding provider and vector store agree on the vector width",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
				if err := app.Verify(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "provider %s and %s store use %d dimensions\n",
					app.Embedder.Name(), app.Config.VectorBackend, emaildomain.EmbeddingDimension)
				return nil
			})
		},
	}

	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.JWTTokenExpiry
			}
			token, err := authusecase.NewTokenService(cfg.JWTSecret).IssueToken(owner, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default JWT_TOKEN_EXPIRY)")
	_ = tokenCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, suggestCmd, verifyCmd, newCredentialCmd(), tokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newCredentialCmd() *cobra.Command {
	credentialCmd := &cobra.Command{
		Use:   "credential",
		Short: "Store the mailbox credential used to read an owner's messages",
	}

	var (
		owner        string
		email        string
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
	)
	googleCmd := &cobra.Command{
		Use:   "google",
		Short: "Store Gmail OAuth tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred := &authdomain.MailboxCredential{
				OwnerID:      owner,
				Provider:     authdomain.ProviderGoogle,
				Email:        email,
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			}
			if expiresIn > 0 {
				cred.TokenExpiry = time.Now().Add(expiresIn)
			}
			return saveCredential(cmd, cred)
		},
	}
	googleCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	googleCmd.Flags().StringVar(&email, "email", "", "Mailbox address")
	googleCmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	googleCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	googleCmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Remaining access token lifetime (unset forces a refresh)")
	_ = googleCmd.MarkFlagRequired("owner")
	_ = googleCmd.MarkFlagRequired("refresh-token")

	var (
		server   string
		port     int
		username string
		password string
	)
	imapCmd := &cobra.Command{
		Use:   "imap",
		Short: "Store IMAP login details (password encrypted with ENCRYPTION_KEY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveCredential(cmd, &authdomain.MailboxCredential{
				OwnerID:      owner,
				Provider:     authdomain.ProviderIMAP,
				Email:        username,
				IMAPServer:   server,
				IMAPPort:     port,
				IMAPUsername: username,
				IMAPPassword: password,
			})
		},
	}
	imapCmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	imapCmd.Flags().StringVar(&server, "server", "", "IMAP server host")
	imapCmd.Flags().IntVar(&port, "port", 993, "IMAP TLS port")
	imapCmd.Flags().StringVar(&username, "username", "", "IMAP username")
	imapCmd.Flags().StringVar(&password, "password", "", "IMAP password")
	for _, name := range []string{"owner", "server", "username", "password"} {
		_ = imapCmd.MarkFlagRequired(name)
	}

	credentialCmd.AddCommand(googleCmd, imapCmd)
	return credentialCmd
}

func runServe(ctx context.Context) error {
	return withApp(ctx, func(ctx context.Context, app *api.App) error {
		if err := app.Verify(ctx); err != nil {
			if errors.Is(err, emaildomain.ErrConfiguration) {
				return err
			}
			// The provider may come up later; searches fail with 503 until it does.
			app.Logger.Warn("[AI] Dimension probe failed", zap.Error(err))
		}
		return api.NewHandler(app, app.Config, app.Logger).Start(ctx, ":"+app.Config.Port)
	})
}

// withApp loads configuration, wires the application and closes it after fn returns.
func withApp(ctx context.Context, fn func(context.Context, *api.App) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := api.NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Warn("[App] Close failed", zap.Error(err))
		}
	}()

	return fn(ctx, app)
}

func saveCredential(cmd *cobra.Command, cred *authdomain.MailboxCredential) error {
	cfg := config.Load()
	if cred.Provider == authdomain.ProviderIMAP {
		if cfg.EncryptionKey == "" {
			return errors.New("ENCRYPTION_KEY is required to store IMAP passwords")
		}
		sealed, err := crypto.Encrypt(cred.IMAPPassword, cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encrypt password: %w", err)
		}
		cred.IMAPPassword = sealed
	}

	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.Migrate(db, false); err != nil {
		return err
	}

	if err := authrepository.NewCredentialRepository(db).Save(cmd.Context(), cred); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s credential for %s\n", cred.Provider, cred.OwnerID)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
