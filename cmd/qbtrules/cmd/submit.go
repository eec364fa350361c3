package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

/*
 * Client mode: submit a job to a running qbtrules server and optionally
 * poll for its result. Intended for cron entries and *arr download-client
 * hooks that should not talk to qBittorrent directly.
 */

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a run to a qbtrules server",
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("server", "http://localhost:8094", "qbtrules server base URL")
	submitCmd.Flags().String("api-key", "", "API key (or QBT_RULES_SERVER_API_KEY)")
	submitCmd.Flags().String("context", "", "run context label")
	submitCmd.Flags().String("hash", "", "restrict the run to one torrent hash")
	submitCmd.Flags().String("instance", "", "instance id selecting variable overrides")
	submitCmd.Flags().Bool("dry-run", false, "queue a dry run")
	submitCmd.Flags().Bool("wait", false, "poll until the job finishes and print its result")
	submitCmd.Flags().Duration("timeout", 10*time.Minute, "maximum time to wait with --wait")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("QBT_RULES_SERVER_API_KEY")
	}

	params := url.Values{}
	if v, _ := cmd.Flags().GetString("context"); v != "" {
		params.Set("context", v)
	}
	if v, _ := cmd.Flags().GetString("hash"); v != "" {
		params.Set("hash", v)
	}
	if v, _ := cmd.Flags().GetString("instance"); v != "" {
		params.Set("instance", v)
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); v {
		params.Set("dry_run", strconv.FormatBool(v))
	}

	client := &http.Client{Timeout: 30 * time.Second}
	base := strings.TrimRight(serverURL, "/")

	payload, err := call(client, http.MethodPost, base+"/api/execute?"+params.Encode(), apiKey)
	if err != nil {
		return err
	}

	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("malformed server response: %w", err)
	}

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		fmt.Printf("queued job %s\n", job.ID)
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)

		payload, err := call(client, http.MethodGet, base+"/api/jobs/"+job.ID, apiKey)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("malformed server response: %w", err)
		}

		switch job.Status {
		case "completed", "failed", "cancelled":
			fmt.Println(string(payload))
			if job.Status != "completed" {
				return fmt.Errorf("job %s %s", job.ID, job.Status)
			}
			return nil
		}
	}
	return fmt.Errorf("timed out waiting for job %s", job.ID)
}

func call(client *http.Client, method, target, apiKey string) ([]byte, error) {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
