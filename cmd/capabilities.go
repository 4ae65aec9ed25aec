package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patchtrace/patchtrace/internal/capability"
)

// newCapabilitiesCmd creates the 'capabilities' subcommand, which probes the
// local environment without fetching anything.
func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Probes which fetch strategies are usable on this machine",

		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ok := runtimeFrom(cmd.Context())
			if !ok {
				return errors.New("runtime not initialized")
			}
			prober := capability.New(capability.Config{
				HeadlessEnabled:  rt.cfg.Headless.Enabled,
				VendorAPIBaseURL: rt.cfg.VendorAPI.BaseURL,
				BrowserPath:      rt.cfg.Headless.BrowserPath,
			}, rt.logger.Named("capability"))

			caps := prober.Probe(cmd.Context())
			out, err := json.MarshalIndent(caps, "", "  ")
			if err != nil {
				return fmt.Errorf("encode capabilities: %w", err)
			}
			fmt.Println(string(out))
			fmt.Printf("recommended strategy: %s\n", prober.RecommendedStrategy(cmd.Context()))
			return nil
		},
	}
}
