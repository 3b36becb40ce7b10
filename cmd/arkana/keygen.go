package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate token signing material",
		Long: `Generate a signing key for ARKANA_TOKENS_PRIVATE_KEY. ed25519 prints a
PKCS#8 private key and its public key as PEM; hs256 prints a random
32-byte secret as hex.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return generateKey(cmd.OutOrStdout(), rand.Reader, method)
		},
	}
	cmd.Flags().StringVar(&method, "method", "ed25519", "signing method (ed25519 or hs256)")
	return cmd
}

func generateKey(w io.Writer, random io.Reader, method string) error {
	switch strings.ToLower(method) {
	case "ed25519":
		pub, priv, err := ed25519.GenerateKey(random)
		if err != nil {
			return oops.Code("KEYGEN_FAILED").Wrap(err)
		}
		privDER, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return oops.Code("KEYGEN_FAILED").Wrap(err)
		}
		pubDER, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return oops.Code("KEYGEN_FAILED").Wrap(err)
		}
		if err := pem.Encode(w, &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}); err != nil {
			return oops.Code("KEYGEN_WRITE").Wrap(err)
		}
		if err := pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}); err != nil {
			return oops.Code("KEYGEN_WRITE").Wrap(err)
		}
		return nil
	case "hs256":
		secret := make([]byte, 32)
		if _, err := io.ReadFull(random, secret); err != nil {
			return oops.Code("KEYGEN_FAILED").Wrap(err)
		}
		if _, err := io.WriteString(w, hex.EncodeToString(secret)+"\n"); err != nil {
			return oops.Code("KEYGEN_WRITE").Wrap(err)
		}
		return nil
	default:
		return oops.Code("KEYGEN_METHOD").With("method", method).Errorf("unsupported signing method %q", method)
	}
}
