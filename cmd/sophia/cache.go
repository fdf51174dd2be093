package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sophia-ai/sophia/pkg/models"
)

// The response cache lives inside the serve process, so these commands talk
// to its admin endpoints.
func newCacheCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache of a running server",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats models.CacheStats
			if err := cacheRequest(cmd.Context(), http.MethodGet, addr, "/v1/cache/stats", &stats); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatCacheStats(stats))
			return nil
		},
	}

	var pattern string
	clearCmd := &cobra.Command{
		Use:   "clear [key]",
		Short: "Remove one cache entry, or every entry matching --pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case len(args) == 1:
				path = "/v1/cache/" + url.PathEscape(args[0])
			case pattern != "":
				path = "/v1/cache?pattern=" + url.QueryEscape(pattern)
			default:
				return fmt.Errorf("specify a key or --pattern")
			}

			var res struct {
				Deleted int `json:"deleted"`
			}
			if err := cacheRequest(cmd.Context(), http.MethodDelete, addr, path, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", res.Deleted)
			return nil
		},
	}
	clearCmd.Flags().StringVarP(&pattern, "pattern", "p", "", "remove keys containing this substring")

	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the sophia server")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func cacheRequest(ctx context.Context, method, addr, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatCacheStats(s models.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries:     %s\n", humanize.Comma(int64(s.TotalEntries)))
	fmt.Fprintf(&b, "Hits:        %s\n", humanize.Comma(s.Hits))
	fmt.Fprintf(&b, "Misses:      %s\n", humanize.Comma(s.Misses))
	fmt.Fprintf(&b, "Hit rate:    %.1f%%\n", s.HitRate*100)
	fmt.Fprintf(&b, "Evictions:   %s\n", humanize.Comma(s.Evictions))
	fmt.Fprintf(&b, "Expirations: %s\n", humanize.Comma(s.Expirations))
	return b.String()
}
