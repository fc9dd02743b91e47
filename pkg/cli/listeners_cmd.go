package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/inbound/pkg/cli/internal/output"
	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/engine/api"
	"github.com/getmockd/inbound/pkg/protocol"
)

var adminURL string

// adminClient talks to the control API of a running inboundd.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(base string) *adminClient {
	return &adminClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Message)
		}
		return fmt.Errorf("control API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *adminClient) list(ctx context.Context) ([]protocol.Status, error) {
	var resp api.ListenersResponse
	if err := c.do(ctx, http.MethodGet, "/listeners", &resp); err != nil {
		return nil, err
	}
	return resp.Listeners, nil
}

func (c *adminClient) action(ctx context.Context, name string, action api.Action) (protocol.Status, error) {
	var st protocol.Status
	err := c.do(ctx, http.MethodPost, "/listeners/"+name+"/"+string(action), &st)
	return st, err
}

func (c *adminClient) undeploy(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/listeners/"+name, nil)
}

func printStatuses(w io.Writer, statuses []protocol.Status) error {
	if jsonOutput {
		return output.JSON(w, statuses)
	}
	tw := output.Table(w)
	fmt.Fprintln(tw, "NAME\tPROTOCOL\tSTATE\tIN-FLIGHT\tBOUND")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", s.Name, s.Protocol, s.State, s.InFlight, !s.Deactivated)
	}
	return tw.Flush()
}

var listenersCmd = &cobra.Command{
	Use:     "listeners",
	Aliases: []string{"ls"},
	Short:   "List and control the listeners of a running inboundd",
	RunE: func(cmd *cobra.Command, _ []string) error {
		statuses, err := newAdminClient(adminURL).list(cmd.Context())
		if err != nil {
			return err
		}
		return printStatuses(cmd.OutOrStdout(), statuses)
	},
}

func actionCmd(action api.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAdminClient(adminURL).action(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			return printStatuses(cmd.OutOrStdout(), []protocol.Status{st})
		},
	}
}

var undeployCmd = &cobra.Command{
	Use:   "undeploy NAME",
	Short: "Drain a listener and remove it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAdminClient(adminURL).undeploy(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listener %s undeployed\n", args[0])
		return nil
	},
}

func init() {
	listenersCmd.PersistentFlags().StringVar(&adminURL, "admin-url", fmt.Sprintf("http://localhost:%d", config.DefaultAdminPort), "Control API base URL")
	listenersCmd.AddCommand(
		actionCmd(api.ActionPause, "Stop admitting new work; the transport stays bound"),
		actionCmd(api.ActionResume, "Admit new work again, binding the transport if needed"),
		actionCmd(api.ActionActivate, "Bind the transport and admit new work"),
		actionCmd(api.ActionDeactivate, "Release the transport without draining"),
		undeployCmd,
	)
	rootCmd.AddCommand(listenersCmd)
}
