package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// adminClient calls the bot's admin API.
type adminClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func newAdminClient(endpoint string) *adminClient {
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	return &adminClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    os.Getenv("ADMIN_TOKEN"),
		// Room creation waits on several upstream services.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-Admin-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *adminClient) create(ctx context.Context, episodeID string, force bool) (string, error) {
	path := "/admin/episodes/" + url.PathEscape(episodeID) + "/create"
	if force {
		path += "?force=1"
	}
	var out struct {
		Room string `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, path, &out); err != nil {
		return "", err
	}
	return out.Room, nil
}

func (c *adminClient) record(ctx context.Context, episodeID string) error {
	return c.do(ctx, http.MethodPost, "/admin/episodes/"+url.PathEscape(episodeID)+"/record", nil)
}

type roomRow struct {
	Room      string    `json:"room"`
	EpisodeID string    `json:"episode_id"`
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	Space     string    `json:"space"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *adminClient) rooms(ctx context.Context, limit int) ([]roomRow, error) {
	var out struct {
		Rooms []roomRow `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/rooms?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func endpointFlag(cmd *cobra.Command) *string {
	return cmd.Flags().StringP("endpoint", "e", os.Getenv("SGLBOT_URL"), "bot HTTP endpoint (default http://localhost:8080)")
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <episode-id>",
		Short: "Open the race room for an episode",
		Args:  cobra.ExactArgs(1),
	}
	endpoint := endpointFlag(cmd)
	force := cmd.Flags().BoolP("force", "f", false, "open a new room even if one exists")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ref, err := newAdminClient(*endpoint).create(cmd.Context(), args[0], *force)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ref)
		return nil
	}
	return cmd
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <episode-id>",
		Short: "Record the result of an episode's newest room",
		Args:  cobra.ExactArgs(1),
	}
	endpoint := endpointFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := newAdminClient(*endpoint).record(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded episode %s\n", args[0])
		return nil
	}
	return cmd
}

func roomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List recent race rooms",
		Args:  cobra.NoArgs,
	}
	endpoint := endpointFlag(cmd)
	limit := cmd.Flags().IntP("limit", "n", 20, "number of rooms to list")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		rooms, err := newAdminClient(*endpoint).rooms(cmd.Context(), *limit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROOM\tEPISODE\tEVENT\tSTATUS\tSPACE\tUPDATED")
		for _, r := range rooms {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Room, r.EpisodeID, r.Event, r.Status, r.Space, r.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}
	return cmd
}
