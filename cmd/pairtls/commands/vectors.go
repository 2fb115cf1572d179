package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backkem/pairtls/pkg/keyschedule"
)

func vectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Print the key schedule secrets a PSK yields over an empty transcript",
		Long: `Vectors runs the full key schedule for the given PSK without mixing in
any handshake messages and prints each derived secret. Two endpoints
holding the same PSK print identical output, which makes the command a
quick check that their HKDF derivations agree before attempting a real
handshake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			psk, err := hex.DecodeString(pskHex)
			if err != nil {
				return fmt.Errorf("decode --psk: %w", err)
			}
			if len(psk) == 0 {
				return fmt.Errorf("--psk must not be empty")
			}
			return runVectors(psk)
		},
	}
	cmd.Flags().StringVar(&pskHex, "psk", "", "pre-shared key, hex encoded")
	_ = cmd.MarkFlagRequired("psk")
	return cmd
}

func runVectors(psk []byte) error {
	s := keyschedule.New()
	if err := s.AddPSK(psk); err != nil {
		return err
	}
	binder, err := s.ExternalBinderKey()
	if err != nil {
		return err
	}

	// psk_ke: no key share, the schedule substitutes zeros.
	if err := s.AddECDHE(nil); err != nil {
		return err
	}
	clientHS, err := s.ClientHandshakeTrafficSecret()
	if err != nil {
		return err
	}
	serverHS, err := s.ServerHandshakeTrafficSecret()
	if err != nil {
		return err
	}

	if err := s.Finalize(); err != nil {
		return err
	}
	clientApp, err := s.ClientApplicationTrafficSecret()
	if err != nil {
		return err
	}
	serverApp, err := s.ServerApplicationTrafficSecret()
	if err != nil {
		return err
	}

	printSecret("binder_key (ext)", binder)
	printSecret("client_handshake_traffic_secret", clientHS)
	printSecret("server_handshake_traffic_secret", serverHS)
	printSecret("client_application_traffic_secret_0", clientApp)
	printSecret("server_application_traffic_secret_0", serverApp)
	return nil
}

func printSecret(label string, secret []byte) {
	fmt.Printf("%-36s %x\n", label+":", secret)
}
