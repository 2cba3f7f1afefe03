package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/omers/pii-anonymizer-api/internal/api"
)

var flagHealthURL string

func init() {
	healthCheckCmd.Flags().StringVar(&flagHealthURL, "url", "", "health endpoint (defaults to http://localhost:<server.port>/health)")

	rootCmd.AddCommand(healthCheckCmd)
	rootCmd.AddCommand(versionCmd)
}

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Check a running server and exit non-zero when it is unhealthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := flagHealthURL
		if url == "" {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url = fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		var health api.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("health check failed: invalid response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: HTTP %d, status %q, dependencies %v", resp.StatusCode, health.Status, health.Dependencies)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Health check passed (version %s)\n", health.Version)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit: %s, built: %s)\n", api.Name, version, commit, date)
	},
}
