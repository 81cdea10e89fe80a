// Command alertctl drives the station notification gateway from a terminal.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type runtimeState struct {
	server  string
	timeout time.Duration
	writer  io.Writer
	client  *apiClient
}

func main() {
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	rt := &runtimeState{writer: out}

	root := &cobra.Command{
		Use:           "alertctl",
		Short:         "Operate the station SMS gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.server == "" {
				rt.server = os.Getenv("ALERTCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = defaultServer
			}
			if _, err := url.ParseRequestURI(rt.server); err != nil {
				return fmt.Errorf("invalid --server %q: %w", rt.server, err)
			}
			rt.client = newAPIClient(rt.server, rt.timeout)
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Gateway base URL (env ALERTCTL_SERVER)")
	root.PersistentFlags().DurationVar(&rt.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		newScanCommand(rt),
		newTriggerCommand(rt),
		newBulkStatusCommand(rt),
		newAnalyticsCommand(rt),
		newValidateCommand(rt),
	)
	return root
}

func newScanCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a license expiry alert scan now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, _, err := rt.client.do(cmd.Context(), http.MethodPost, "/v1/alerts/scan", nil)
			if err != nil {
				return err
			}
			return rt.print(body)
		},
	}
}

func newTriggerCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <license-id>",
		Short: "Send an urgent alert for one license to its station contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("license id must be a UUID: %w", err)
			}

			body, status, err := rt.client.do(cmd.Context(), http.MethodPost, "/v1/alerts/licenses/"+id.String()+"/trigger", nil)
			if err != nil {
				return err
			}

			var res struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("decode trigger result: %w", err)
			}
			fmt.Fprintln(rt.writer, res.Message)
			if !res.Success {
				return fmt.Errorf("alert not delivered (HTTP %d)", status)
			}
			return nil
		},
	}
}

func newBulkStatusCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-status <job-id>",
		Short: "Show progress of a bulk send job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _, err := rt.client.do(cmd.Context(), http.MethodGet, "/v1/sms/bulk/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return rt.print(body)
		},
	}
}

func newAnalyticsCommand(rt *runtimeState) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show delivery analytics for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := map[string]string{}
			if from != "" {
				query["from"] = from
			}
			if to != "" {
				query["to"] = to
			}
			body, _, err := rt.client.do(cmd.Context(), http.MethodGet, "/v1/sms/analytics", query)
			if err != nil {
				return err
			}
			return rt.print(body)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "End date, inclusive (YYYY-MM-DD or RFC3339)")
	return cmd
}

func newValidateCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <phone>",
		Short: "Check whether a phone number is valid E.164",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _, err := rt.client.do(cmd.Context(), http.MethodGet, "/v1/sms/validate", map[string]string{"phone": args[0]})
			if err != nil {
				return err
			}
			var res struct {
				Phone string `json:"phone"`
				Valid bool   `json:"valid"`
			}
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("decode validation result: %w", err)
			}
			if res.Valid {
				fmt.Fprintf(rt.writer, "%s is valid\n", res.Phone)
				return nil
			}
			fmt.Fprintf(rt.writer, "%s is not a valid E.164 number\n", res.Phone)
			return fmt.Errorf("invalid phone number")
		},
	}
}

func (rt *runtimeState) print(body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = rt.writer.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(rt.writer)
	return err
}
