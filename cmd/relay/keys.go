package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/bhandras/relay/internal/crypto"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	keygenQR bool

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key pair for signing events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := crypto.GenerateSigner()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "secret: %s\n", signer.SecretKey())
			fmt.Fprintf(out, "pubkey: %s\n", signer.PublicKey())
			if keygenQR {
				qr, err := qrcode.New(signer.PublicKey(), qrcode.Medium)
				if err != nil {
					return fmt.Errorf("generate QR code: %w", err)
				}
				fmt.Fprintln(out, qr.ToSmallString(false))
			}
			return nil
		},
	}

	tokenSubject string
	tokenTTL     time.Duration

	adminTokenCmd = &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE:  runAdminToken,
	}
)

func init() {
	keygenCmd.Flags().BoolVar(&keygenQR, "qr", false, "also print the public key as a QR code")
	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject recorded in audit logs")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func runAdminToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AdminSecret == "" {
		return errors.New("RELAY_ADMIN_SECRET is not configured")
	}
	jwtManager, err := crypto.NewJWTManager(cfg.AdminSecret)
	if err != nil {
		return err
	}
	token, err := jwtManager.CreateToken(tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
