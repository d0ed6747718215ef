package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"list39.org/internal/registry"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "server",
		Value:   "http://localhost:8080",
		Usage:   "Registry base URL",
		EnvVars: []string{"LIST39_BASE_URL"},
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
		Usage: "Request deadline",
	},
	&cli.BoolFlag{
		Name:  "check",
		Usage: "Fail unless the document carries every required section",
	},
}

var errNotFound = errors.New("no public agent with that username")

func main() {
	log.SetFlags(0)
	app := &cli.App{
		Name:      "resolve",
		Usage:     "fetch the public agent document for a username",
		ArgsUsage: "<username>",
		Flags:     flags,
		Action: func(cCtx *cli.Context) error {
			username := cCtx.Args().First()
			if username == "" {
				return cli.Exit("usage: resolve [flags] <username>", 2)
			}
			ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration("timeout"))
			defer cancel()

			raw, err := fetch(ctx, http.DefaultClient, cCtx.String("server"), username)
			if err != nil {
				return err
			}
			if cCtx.Bool("check") {
				if err := check(raw); err != nil {
					return fmt.Errorf("@%s: %w", username, err)
				}
			}
			_, err = os.Stdout.Write(raw)
			return err
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// fetch returns the raw public document for username from server.
func fetch(ctx context.Context, client *http.Client, server, username string) ([]byte, error) {
	u := strings.TrimRight(server, "/") + "/@" + url.PathEscape(registry.NormalizeUsername(username)) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("@%s: %w", username, errNotFound)
	default:
		return nil, fmt.Errorf("GET %s: unexpected status %d", u, resp.StatusCode)
	}
}

// check verifies that the document decodes as a public record with its
// identifying fields set.
func check(raw []byte) error {
	var rec registry.PublicRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	var missing []string
	if rec.ID == "" {
		missing = append(missing, "id")
	}
	if rec.AgentName == "" {
		missing = append(missing, "agent_name")
	}
	if rec.Label == "" {
		missing = append(missing, "label")
	}
	if rec.Certification.Issuer == "" {
		missing = append(missing, "certification.issuer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("document is missing %s", strings.Join(missing, ", "))
	}
	return nil
}
