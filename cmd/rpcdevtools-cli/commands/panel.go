package commands

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultPanelAddr = "127.0.0.1:9997"

var httpClient = &http.Client{Timeout: 5 * time.Second}

func panelURL(addr, path string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + path
}

func callPanel(method, url string, into any) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact rpcdevtools panel (is the proxy running?): %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close panel response: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading panel response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("panel returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, into)
}

// LiveCommand prints the stats of the running proxy's history.
func LiveCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	addr := fs.String("panel", defaultPanelAddr, "Panel address of the running proxy")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res struct {
		CaptureID string `json:"captureId"`
		Stats     struct {
			Total       int     `json:"total"`
			Pending     int     `json:"pending"`
			Success     int     `json:"success"`
			Errors      int     `json:"errors"`
			AvgDuration float64 `json:"avgDuration"`
		} `json:"stats"`
		InFlight int `json:"inFlight"`
		Capacity int `json:"capacity"`
	}
	if err := callPanel(http.MethodGet, panelURL(*addr, "/api/v1/stats"), &res); err != nil {
		return err
	}

	fmt.Fprintf(out, "Live History (%s)\n", res.CaptureID)
	fmt.Fprintln(out, "=======================")
	fmt.Fprintf(out, "Records:         %d / %d\n", res.Stats.Total, res.Capacity)
	fmt.Fprintf(out, "Pending:         %d\n", res.Stats.Pending)
	fmt.Fprintf(out, "Success:         %d\n", res.Stats.Success)
	fmt.Fprintf(out, "Errors:          %d\n", res.Stats.Errors)
	fmt.Fprintf(out, "Avg Duration:    %.1fms\n", res.Stats.AvgDuration)
	fmt.Fprintf(out, "In Flight:       %d\n", res.InFlight)
	return nil
}

// ClearCommand drops the running proxy's history.
func ClearCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	addr := fs.String("panel", defaultPanelAddr, "Panel address of the running proxy")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res struct {
		Cleared int `json:"cleared"`
	}
	if err := callPanel(http.MethodDelete, panelURL(*addr, "/api/v1/requests"), &res); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Cleared %d records\n", res.Cleared)
	return nil
}
