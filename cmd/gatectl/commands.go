package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-gate/pkg/simplegate/config"
	"github.com/tendant/simple-gate/pkg/simplegate/password"
	"github.com/tendant/simple-gate/pkg/simplegate/signedurl"
)

// NewHashPasswordCommand creates the hash-password command
func NewHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Derive a password record",
		Long: `Derive a PBKDF2 password record suitable for the users table.

The password is read from stdin when it is not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			pw, err := passwordArg(cmd, args)
			if err != nil {
				return err
			}

			record, err := cfg.BuildHasher().Hash(pw)
			if err != nil {
				return fmt.Errorf("hash failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), record)
			return nil
		},
	}
}

// NewVerifyPasswordCommand creates the verify-password command
func NewVerifyPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-password <record> [password]",
		Short: "Check a password against a stored record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			pw, err := passwordArg(cmd, args[1:])
			if err != nil {
				return err
			}

			ok, err := cfg.BuildHasher().Verify(pw, args[0])
			if errors.Is(err, password.ErrLegacyFormat) {
				return fmt.Errorf("record uses a retired format, the password must be reset")
			}
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("password does not match")
			}

			fmt.Fprintln(cmd.OutOrStdout(), "match")
			return nil
		},
	}
}

// NewSignURLCommand creates the sign-url command
func NewSignURLCommand() *cobra.Command {
	var ttl time.Duration
	var basePath string

	cmd := &cobra.Command{
		Use:   "sign-url <key>",
		Short: "Issue a signed download URL for an object key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if basePath == "" {
				basePath = cfg.DownloadPath
			}

			signer := cfg.BuildSigner(stderrLogger(cmd))
			signed, capability := signer.SignURL(basePath, args[0], ttl)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, signed)
			fmt.Fprintf(out, "Expires: %s\n", time.Unix(capability.ExpiresAt, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "validity period (defaults to SIGNED_URL_TTL)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "download endpoint path (defaults to DOWNLOAD_PATH)")

	return cmd
}

// NewVerifyURLCommand creates the verify-url command
func NewVerifyURLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-url <url>",
		Short: "Check the signature and expiry of a download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			u, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}

			capability, err := signedurl.ParseQuery(u.Query())
			if err != nil {
				return err
			}

			signer := cfg.BuildSigner(stderrLogger(cmd))
			if err := signer.Verify(capability.Key, capability.Signature, capability.ExpiresAt); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid\nKey: %s\nExpires: %s\n",
				capability.Key, time.Unix(capability.ExpiresAt, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}
}

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(newConfigView(masked(*cfg)))
		},
	}
}

// configView renders durations the way the environment variables take them.
// Its fields shadow the embedded ones of the same JSON name.
type configView struct {
	config.ServerConfig
	SessionTTL         string `json:"session_ttl"`
	UploadRateWindow   string `json:"upload_rate_window"`
	DownloadRateWindow string `json:"download_rate_window"`
	SignedURLTTL       string `json:"signed_url_ttl"`
}

func newConfigView(cfg config.ServerConfig) configView {
	return configView{
		ServerConfig:       cfg,
		SessionTTL:         cfg.SessionTTL.String(),
		UploadRateWindow:   cfg.UploadRateWindow.String(),
		DownloadRateWindow: cfg.DownloadRateWindow.String(),
		SignedURLTTL:       cfg.SignedURLTTL.String(),
	}
}

func masked(cfg config.ServerConfig) config.ServerConfig {
	for _, secret := range []*string{&cfg.SigningSecret, &cfg.JWTSecret, &cfg.AWSSecretAccessKey} {
		if *secret != "" {
			*secret = "****"
		}
	}
	cfg.DatabaseURL = maskPassword(cfg.DatabaseURL)
	cfg.RateLimitStoreURL = maskPassword(cfg.RateLimitStoreURL)
	return cfg
}

// maskPassword replaces the password of a URL's userinfo with ****. The mask
// is spliced in after rendering since url.URL would escape it.
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.User(u.User.Username())
	return strings.Replace(u.String(), "@", ":****@", 1)
}

func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password is required")
	}
	return pw, nil
}

func stderrLogger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}
