package commands

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel      string
	loggerFactory *logging.DefaultLoggerFactory

	pskHex string
	pskID  string
)

// Execute runs the pairtls CLI.
func Execute() error {
	root := &cobra.Command{
		Use:   "pairtls",
		Short: "Pre-shared-key pairing over TLS 1.3",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			loggerFactory = logging.NewDefaultLoggerFactory()
			loggerFactory.DefaultLogLevel = level
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (disabled, error, warn, info, debug, trace)")

	root.AddCommand(serveCmd(), dialCmd(), discoverCmd(), vectorsCmd())
	return root.Execute()
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// parsePSK decodes the shared --psk/--psk-id flags.
func parsePSK() (psk, id []byte, err error) {
	psk, err = hex.DecodeString(pskHex)
	if err != nil {
		return nil, nil, fmt.Errorf("decode --psk: %w", err)
	}
	if len(psk) == 0 {
		return nil, nil, fmt.Errorf("--psk must not be empty")
	}
	if pskID == "" {
		return nil, nil, fmt.Errorf("--psk-id must not be empty")
	}
	return psk, []byte(pskID), nil
}
