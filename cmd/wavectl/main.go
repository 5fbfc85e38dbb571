// wavectl is the operator CLI for the coordinator API.
//
// It mints the bearer tokens the API requires and wraps the control
// endpoints, so starting the loop or forcing a tick is one command
// instead of a curl incantation.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var (
	addr  string
	token string
)

func main() {
	root := &cobra.Command{
		Use:           "wavectl",
		Short:         "Operator CLI for the clipwave coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr",
		envOr("COORDINATOR_ADDR", "http://localhost:8080"), "coordinator base URL")
	root.PersistentFlags().StringVar(&token, "token",
		os.Getenv("WAVECTL_TOKEN"), "bearer token (defaults to $WAVECTL_TOKEN)")

	root.AddCommand(
		tokenCmd(),
		statusCmd(),
		tickCmd(),
		dashboardCmd(),
		controlCmd("start", "Start the coordination loop"),
		controlCmd("stop", "Stop the coordination loop"),
		controlCmd("pause", "Pause coordination, keeping controller state"),
		controlCmd("resume", "Resume a paused coordination loop"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wavectl:", err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var operator string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token",
		Long:  "Signs a short-lived HS256 token with the JWT_SECRET the server was started with.",
		RunE: func(_ *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			now := time.Now()
			claims := jwt.MapClaims{
				"sub": operator,
				"iat": now.Unix(),
				"exp": now.Add(ttl).Unix(),
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show controller state",
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/api/v1/control/status")
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one coordination pass now",
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodPost, "/api/v1/control/tick")
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the aggregated system dashboard",
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/api/v1/dashboard")
		},
	}
}

func controlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodPost, "/api/v1/control/"+action)
		},
	}
}

// call hits the coordinator API and prints the response body, indented
// when it parses as JSON.
func call(method, path string) error {
	if token == "" {
		return fmt.Errorf("no token: pass --token or set WAVECTL_TOKEN (mint one with: wavectl token --operator you)")
	}

	req, err := http.NewRequest(method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		fmt.Println(resp.Status)
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
