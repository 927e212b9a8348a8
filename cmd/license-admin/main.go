// Command license-admin is a thin CLI over the admin API. The server address
// and admin key come from the environment (VIDTTOOL_SERVER_URL,
// VIDTTOOL_ADMIN_KEY), a .env file, or flags.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const usage = `usage: license-admin [flags] <command> [args]

commands:
  create [-email E] [-type T] [-machines N] [-days D] [-notes S]
  list
  get <key>
  toggle <key>
  reset <key>
  delete <key>
  bulk-generate [-count N] [-batch NAME] [-type T] [-machines N] [-days D]
  disable-expired
  devices
  ban <device-id> [reason]
  unban <device-id>
  activations
  logs [-limit N]
  stats
`

type cli struct {
	baseURL  string
	adminKey string
	client   *http.Client
}

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", envOr("VIDTTOOL_SERVER_URL", "http://localhost:8080"), "server base URL")
	adminKey := flag.String("admin-key", os.Getenv("VIDTTOOL_ADMIN_KEY"), "admin API key")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &cli{
		baseURL:  strings.TrimRight(*serverURL, "/"),
		adminKey: *adminKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}

	if err := c.run(args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) run(command string, args []string) error {
	switch command {
	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		email := fs.String("email", "", "owner email")
		licType := fs.String("type", "standard", "license type")
		machines := fs.Int("machines", 1, "max machines")
		days := fs.Int("days", 0, "duration in days, 0 for no expiry")
		notes := fs.String("notes", "", "notes")
		fs.Parse(args)
		return c.call(http.MethodPost, "/admin/licenses", map[string]interface{}{
			"email":         *email,
			"license_type":  *licType,
			"max_machines":  *machines,
			"duration_days": *days,
			"notes":         *notes,
		})
	case "list":
		return c.call(http.MethodGet, "/admin/licenses", nil)
	case "get":
		return c.callWithArg(http.MethodGet, "/admin/licenses/%s", args, nil)
	case "toggle":
		return c.callWithArg(http.MethodPost, "/admin/licenses/%s/toggle", args, nil)
	case "reset":
		return c.callWithArg(http.MethodPost, "/admin/licenses/%s/reset", args, nil)
	case "delete":
		return c.callWithArg(http.MethodDelete, "/admin/licenses/%s", args, nil)
	case "bulk-generate":
		fs := flag.NewFlagSet("bulk-generate", flag.ExitOnError)
		count := fs.Int("count", 10, "number of keys")
		batch := fs.String("batch", "", "batch name")
		licType := fs.String("type", "standard", "license type")
		machines := fs.Int("machines", 1, "max machines")
		days := fs.Int("days", 0, "duration in days")
		fs.Parse(args)
		return c.call(http.MethodPost, "/admin/bulk/generate", map[string]interface{}{
			"count":         *count,
			"batch_name":    *batch,
			"license_type":  *licType,
			"max_machines":  *machines,
			"duration_days": *days,
		})
	case "disable-expired":
		return c.call(http.MethodPost, "/admin/bulk/disable-expired", nil)
	case "devices":
		return c.call(http.MethodGet, "/admin/devices", nil)
	case "ban":
		if len(args) < 1 {
			return fmt.Errorf("ban requires a device id")
		}
		reason := ""
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		return c.call(http.MethodPost, "/admin/devices/"+args[0]+"/ban",
			map[string]string{"reason": reason})
	case "unban":
		return c.callWithArg(http.MethodPost, "/admin/devices/%s/unban", args, nil)
	case "activations":
		return c.call(http.MethodGet, "/admin/activations", nil)
	case "logs":
		fs := flag.NewFlagSet("logs", flag.ExitOnError)
		limit := fs.Int("limit", 100, "max entries")
		fs.Parse(args)
		return c.call(http.MethodGet, fmt.Sprintf("/admin/logs?limit=%d", *limit), nil)
	case "stats":
		return c.call(http.MethodGet, "/admin/stats", nil)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) callWithArg(method, pathFmt string, args []string, body interface{}) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one argument")
	}
	return c.call(method, fmt.Sprintf(pathFmt, args[0]), body)
}

func (c *cli) call(method, path string, body interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		reqBody = buf
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Key", c.adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		fmt.Println("ok")
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
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
