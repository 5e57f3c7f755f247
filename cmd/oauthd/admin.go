package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/alexjbarnes/oauthd/internal/config"
	"github.com/alexjbarnes/oauthd/internal/credentials"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"
)

func newHashSecretCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-secret",
		Short: "Read a client secret from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Enter secret: ")

			hash, err := hashSecret(cmd.InOrStdin(), cost)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)

			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")

	return cmd
}

func hashSecret(r io.Reader, cost int) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return "", errors.New("no input")
	}

	return credentials.NewHasher(cost).HashSecret(strings.TrimSpace(scanner.Text()))
}

type createAppOptions struct {
	clientID     string
	name         string
	redirectURIs []string
	scopes       []string
	public       bool
	status       string
}

func newCreateAppCmd() *cobra.Command {
	var opts createAppOptions

	cmd := &cobra.Command{
		Use:   "create-app",
		Short: "Register an application and print its client credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			registry, err := loadScopes(cfg)
			if err != nil {
				return fmt.Errorf("loading scopes: %w", err)
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			app, secret, err := createApp(ctx, st, registry, credentials.NewHasher(cfg.BcryptCost), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id:     %s\n", app.ClientID)

			if secret != "" {
				fmt.Fprintf(out, "client_secret: %s\n", secret)
				fmt.Fprintln(cmd.ErrOrStderr(), "Store the secret now; it cannot be shown again.")
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.clientID, "client-id", "", "client id (default: random UUID)")
	f.StringVar(&opts.name, "name", "", "application name")
	f.StringSliceVar(&opts.redirectURIs, "redirect-uri", nil, "allowed redirect URI (repeatable)")
	f.StringSliceVar(&opts.scopes, "scope", nil, "scope the application may request (repeatable)")
	f.BoolVar(&opts.public, "public", false, "public client without a secret (PKCE required)")
	f.StringVar(&opts.status, "status", string(models.StatusActive), "initial status")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("redirect-uri")

	return cmd
}

// createApp validates opts and persists a new application. The returned
// secret is empty for public clients.
func createApp(ctx context.Context, apps store.ApplicationStore, registry *scopes.Registry, hasher *credentials.Hasher, opts createAppOptions) (*models.Application, string, error) {
	// Names are shown on consent screens; store them in NFC so equal
	// strings compare equal.
	name := norm.NFC.String(strings.TrimSpace(opts.name))
	if name == "" {
		return nil, "", errors.New("name is required")
	}

	if len(opts.redirectURIs) == 0 {
		return nil, "", errors.New("at least one redirect URI is required")
	}

	for _, raw := range opts.redirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" || u.Fragment != "" {
			return nil, "", fmt.Errorf("redirect URI %q must be absolute with no fragment", raw)
		}
	}

	if len(opts.scopes) == 0 {
		opts.scopes = registry.Defaults()
	}

	if v := registry.Validate(opts.scopes); !v.OK() {
		return nil, "", fmt.Errorf("unknown scopes: %s", strings.Join(v.Invalid, ", "))
	}

	status := models.ApplicationStatus(strings.ToUpper(opts.status))
	if !status.Valid() {
		return nil, "", fmt.Errorf("invalid status %q", opts.status)
	}

	clientID := opts.clientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	if _, err := apps.GetApplication(ctx, clientID); err == nil {
		return nil, "", fmt.Errorf("application %q already exists", clientID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("checking client id: %w", err)
	}

	now := time.Now().UTC()
	app := models.Application{
		ClientID:     clientID,
		Name:         name,
		RedirectURIs: opts.redirectURIs,
		Scopes:       opts.scopes,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var secret string

	if !opts.public {
		var err error

		secret, err = credentials.GenerateClientSecret()
		if err != nil {
			return nil, "", err
		}

		app.ClientSecretHash, err = hasher.HashSecret(secret)
		if err != nil {
			return nil, "", err
		}
	}

	if err := apps.SaveApplication(ctx, app); err != nil {
		return nil, "", fmt.Errorf("saving application: %w", err)
	}

	return &app, secret, nil
}

func newSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <client_id> <STATUS>",
		Short: "Move an application to PENDING, ACTIVE, SUSPENDED, REVOKED or REJECTED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			status := models.ApplicationStatus(strings.ToUpper(args[1]))
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", args[1])
			}

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			if err := st.SetApplicationStatus(ctx, args[0], status); err != nil {
				return fmt.Errorf("setting status: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], status)

			return nil
		},
	}
}
