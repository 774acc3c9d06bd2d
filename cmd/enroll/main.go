package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-mfa/pkg/authmethod"
	"github.com/tendant/simple-mfa/pkg/config"
	"github.com/tendant/simple-mfa/pkg/mfa"
	"github.com/tendant/simple-mfa/pkg/userdir"
)

// enroll creates or updates the MFA profile of one subject.
func main() {
	subject := flag.String("subject", "", "Subject id of the user (required)")
	password := flag.String("password", "", "Password to hash and store")
	email := flag.String("email", "", "Email address for email codes")
	phone := flag.String("phone", "", "Phone number for SMS codes")
	wallets := flag.String("wallets", "", "Comma separated wallet addresses")
	oauth := flag.String("oauth", "", "Linked identity as provider:subject")
	withTOTP := flag.Bool("totp", false, "Generate a new TOTP secret")
	flag.Parse()

	if *subject == "" {
		fmt.Println("Error: subject is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	config.LoadEnvFile(".env")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	storeConfig := userdir.StoreConfig{DataDir: cfg.Mfa.DataDir}
	commit := func() error { return nil }

	if cfg.Mfa.ProfileStore == "postgres" || cfg.Mfa.ProfileStore == "postgresql" {
		dbConfig := cfg.Database.ToDbConfig()
		pool, err := dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(1)
		}
		defer pool.Close()

		if err := userdir.NewPostgresStore(pool).Migrate(ctx); err != nil {
			slog.Error("Failed to migrate profile tables", "error", err)
			os.Exit(1)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			slog.Error("Failed to start transaction", "error", err)
			os.Exit(1)
		}
		// Ignored once the transaction is committed
		defer tx.Rollback(ctx)
		storeConfig.DB = tx
		commit = func() error { return tx.Commit(ctx) }
	}

	store, err := userdir.NewProfileStore(cfg.Mfa.ProfileStore, storeConfig)
	if err != nil {
		slog.Error("Failed to create profile store", "error", err)
		os.Exit(1)
	}

	profile, err := store.GetProfile(ctx, *subject)
	switch {
	case errors.Is(err, mfa.ErrNotFound):
		profile = userdir.Profile{SubjectID: *subject}
	case err != nil:
		slog.Error("Failed to load profile", "subject", *subject, "error", err)
		os.Exit(1)
	}

	if *password != "" {
		profile.PasswordHash, err = authmethod.HashPassword(*password)
		if err != nil {
			slog.Error("Failed to hash password", "error", err)
			os.Exit(1)
		}
	}
	if *email != "" {
		profile.Email = *email
	}
	if *phone != "" {
		profile.Phone = *phone
	}
	for _, w := range strings.Split(*wallets, ",") {
		if w = mfa.NormalizeWallet(w); w != "" && !slices.Contains(profile.Wallets, w) {
			profile.Wallets = append(profile.Wallets, w)
		}
	}
	if *oauth != "" {
		provider, providerSubject, ok := strings.Cut(*oauth, ":")
		if !ok || provider == "" || providerSubject == "" {
			fmt.Println("Error: oauth must be provider:subject")
			os.Exit(1)
		}
		profile.OAuthIdentities = append(profile.OAuthIdentities, userdir.OAuthIdentity{
			Provider:        provider,
			ProviderSubject: providerSubject,
		})
	}
	if *withTOTP {
		account := profile.Email
		if account == "" {
			account = profile.SubjectID
		}
		profile.TOTPSecret, err = authmethod.GenerateTOTPSecret(account)
		if err != nil {
			os.Exit(1)
		}
	}

	if err := store.SaveProfile(ctx, profile); err != nil {
		slog.Error("Failed to save profile", "subject", *subject, "error", err)
		os.Exit(1)
	}
	if err := commit(); err != nil {
		slog.Error("Failed to commit transaction", "error", err)
		os.Exit(1)
	}

	slog.Info("Profile saved", "subject", profile.SubjectID, "methods", profile.EnrolledMethods())
	if *withTOTP {
		fmt.Printf("TOTP secret for %s: %s\n", profile.SubjectID, profile.TOTPSecret)
	}
}
