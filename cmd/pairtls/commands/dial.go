package commands

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/backkem/pairtls/pkg/record"
	"github.com/backkem/pairtls/pkg/transport"
)

var dialAddr string

func dialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Pair with an endpoint and exchange lines from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			psk, id, err := parsePSK()
			if err != nil {
				return err
			}
			return runDial(psk, id)
		},
	}
	cmd.Flags().StringVar(&dialAddr, "addr", "", "endpoint address (host:port)")
	cmd.Flags().StringVar(&pskHex, "psk", "", "pre-shared key, hex encoded")
	cmd.Flags().StringVar(&pskID, "psk-id", "", "pre-shared key identity")
	_ = cmd.MarkFlagRequired("addr")
	_ = cmd.MarkFlagRequired("psk")
	_ = cmd.MarkFlagRequired("psk-id")
	return cmd
}

func runDial(psk, id []byte) error {
	conn, err := net.Dial("tcp", dialAddr)
	if err != nil {
		return err
	}

	stream := transport.Client(conn, transport.StreamConfig{
		PSK:           psk,
		PSKID:         id,
		LoggerFactory: loggerFactory,
	})
	defer stream.Close()

	if err := stream.Handshake(); err != nil {
		return fmt.Errorf("handshake with %s: %w", dialAddr, err)
	}
	fmt.Printf("Paired with %s\n", dialAddr)

	buf := make([]byte, record.MaxPlaintextSize)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		// An empty write produces no record, so there would be nothing
		// to read back.
		if len(line) == 0 {
			continue
		}
		if _, err := stream.Write(line); err != nil {
			return err
		}
		n, err := stream.Read(buf)
		if err != nil {
			return err
		}
		fmt.Printf("< %s\n", buf[:n])
	}
	return scanner.Err()
}
