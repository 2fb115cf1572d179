package commands

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/pairtls/pkg/discovery"
)

var discoverTimeout time.Duration

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for pairing endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd)
		},
	}
	cmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "how long to browse")
	return cmd
}

func runDiscover(cmd *cobra.Command) error {
	browser, err := discovery.NewBrowser(discovery.BrowserConfig{
		BrowseTimeout: discoverTimeout,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}

	results, err := browser.Browse(cmd.Context())
	if err != nil {
		return err
	}

	found := 0
	for ep := range results {
		found++
		addr := "(no address)"
		if ip := ep.PreferredAddr(); ip != nil {
			addr = net.JoinHostPort(ip.String(), strconv.Itoa(ep.Port))
		}
		fmt.Printf("%-24s %s %s\n", ep.Instance, addr, strings.Join(ep.TXT, " "))
	}
	if found == 0 {
		fmt.Println("No pairing endpoints found")
	}
	return nil
}
