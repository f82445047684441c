package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var resetCBCmd = &cobra.Command{
	Use:   "reset-cb",
	Short: "Force the running relay's circuit breaker back to closed",
	Long: `The circuit breaker is in-process state owned by a running "start"
instance. This calls that instance's admin endpoint over HTTP rather than
touching breaker state directly, since the CLI invocation and the running
relay are separate processes.`,
	RunE: runResetCB,
}

func runResetCB(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/admin/reset-cb", addrForDial(cfg.Relay.HealthAddr))
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reset-cb: %w (is the relay running with health_addr=%s?)", err, cfg.Relay.HealthAddr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset-cb: relay returned status %s", resp.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "circuit breaker reset")
	return nil
}

// addrForDial turns a listen address like ":8090" into a dialable
// "localhost:8090".
func addrForDial(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
