package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/pairtls/pkg/discovery"
	"github.com/backkem/pairtls/pkg/record"
	"github.com/backkem/pairtls/pkg/transport"
)

var (
	serveListen    string
	serveAdvertise bool
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept pairing connections and echo application data",
		RunE: func(cmd *cobra.Command, args []string) error {
			psk, id, err := parsePSK()
			if err != nil {
				return err
			}
			return runServe(psk, id)
		},
	}
	cmd.Flags().StringVar(&serveListen, "listen", ":7321", "listen address")
	cmd.Flags().StringVar(&pskHex, "psk", "", "pre-shared key, hex encoded")
	cmd.Flags().StringVar(&pskID, "psk-id", "", "pre-shared key identity")
	cmd.Flags().BoolVar(&serveAdvertise, "advertise", false, "advertise the endpoint over mDNS")
	_ = cmd.MarkFlagRequired("psk")
	_ = cmd.MarkFlagRequired("psk-id")
	return cmd
}

func runServe(psk, id []byte) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", serveListen)
	if err != nil {
		return err
	}

	log := loggerFactory.NewLogger("serve")

	if serveAdvertise {
		port := listener.Addr().(*net.TCPAddr).Port
		adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          port,
			TXT:           []string{"id=" + string(id)},
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			listener.Close()
			return err
		}
		if err := adv.Start(); err != nil {
			listener.Close()
			return err
		}
		defer adv.Close()
		fmt.Printf("Advertising as %s\n", adv.InstanceName())
	}

	fmt.Printf("Listening on %s\n", listener.Addr())

	// Close the listener when the signal arrives so Accept unblocks.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		streams = make(map[*transport.Stream]struct{})
	)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutting down. Unblock in-flight connections and wait
				// for their goroutines.
				mu.Lock()
				for s := range streams {
					s.Close()
				}
				mu.Unlock()
				wg.Wait()
				return nil
			default:
				return err
			}
		}

		stream := transport.Server(conn, transport.StreamConfig{
			PSK:           psk,
			PSKID:         id,
			LoggerFactory: loggerFactory,
		})
		mu.Lock()
		streams[stream] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(streams, stream)
				mu.Unlock()
				stream.Close()
			}()
			serveConn(stream, log)
		}()
	}
}

// serveConn pairs with one peer and echoes its application data back
// until the peer closes.
func serveConn(stream *transport.Stream, log logging.LeveledLogger) {
	peer := stream.RemoteAddr()
	if err := stream.Handshake(); err != nil {
		log.Errorf("handshake with %s failed: %v", peer, err)
		return
	}
	log.Infof("paired with %s", peer)

	buf := make([]byte, record.MaxPlaintextSize)
	for {
		n, err := stream.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Errorf("read from %s failed: %v", peer, err)
			}
			return
		}
		if _, err := stream.Write(buf[:n]); err != nil {
			log.Errorf("write to %s failed: %v", peer, err)
			return
		}
	}
}
