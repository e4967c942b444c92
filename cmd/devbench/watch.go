package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/devbench/internal/api"
	"github.com/mattjoyce/devbench/internal/tui/watch"
)

func newWatchCmd() *cobra.Command {
	var apiURL, user, token string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of your devbenches",
		Long: `Open a terminal dashboard of your devbenches, streaming script output
and state changes over the live channel.

Authenticate with --token (or $DEVBENCH_TOKEN), or with --user and a
password from $DEVBENCH_PASSWORD or the first line of stdin. Opening the
watch replaces any other live channel you have open, such as a browser tab.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("DEVBENCH_TOKEN")
			}
			if token == "" {
				if user == "" {
					return errors.New("either --token or --user is required")
				}
				password := os.Getenv("DEVBENCH_PASSWORD")
				if password == "" {
					line, err := readSecretLine(cmd.InOrStdin())
					if err != nil {
						return err
					}
					password = line
				}
				t, err := login(apiURL, user, password)
				if err != nil {
					return err
				}
				token = t
			}

			p := tea.NewProgram(watch.New(apiURL, token, user))
			_, err := p.Run()
			return err
		},
	}

	defaultURL := os.Getenv("DEVBENCH_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&apiURL, "url", defaultURL, "devbench API base URL ($DEVBENCH_URL)")
	cmd.Flags().StringVar(&user, "user", "", "username to log in as")
	cmd.Flags().StringVar(&token, "token", "", "session token ($DEVBENCH_TOKEN)")
	return cmd
}

// login exchanges credentials for a session token.
func login(apiURL, user, password string) (string, error) {
	body, err := json.Marshal(api.LoginRequest{Username: user, Password: password})
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(apiURL, "/")+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return "", fmt.Errorf("login: %s", e.Error)
		}
		return "", fmt.Errorf("login: %s", resp.Status)
	}

	var lr api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("login: decode response: %w", err)
	}
	if lr.Token == "" {
		return "", errors.New("login: empty token in response")
	}
	return lr.Token, nil
}
