// Interactive command-line client for the Elfrid backend.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	userID  int64
)

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("ELFRID_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:5000"
	}

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Elfrid from the terminal",
		Long:  "Creates a fresh session against a running Elfrid server and starts an interactive chat loop. Type 'quit' to exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&baseURL, "url", defaultURL, "base URL of the Elfrid server")
	rootCmd.Flags().Int64Var(&userID, "user", 1, "user ID to chat as")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	client := &http.Client{Timeout: 120 * time.Second}

	sessionID, err := createSession(client)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Printf("New session created: session_id=%d\n", sessionID)
	fmt.Println("\nChat with Elfrid (type 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "quit") {
			break
		}

		reply, err := sendVoice(client, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		fmt.Printf("Elfrid: %s\n", strings.TrimSpace(reply))
	}

	fmt.Println("Chat session ended.")
	return scanner.Err()
}

func createSession(client *http.Client) (int64, error) {
	var out struct {
		SessionID int64  `json:"session_id"`
		Error     string `json:"error"`
	}
	if err := postJSON(client, "/new_chat", map[string]any{"user_id": userID}, &out); err != nil {
		return 0, err
	}
	if out.Error != "" {
		return 0, fmt.Errorf("server: %s", out.Error)
	}
	return out.SessionID, nil
}

func sendVoice(client *http.Client, input string) (string, error) {
	var out struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := postJSON(client, "/voice", map[string]any{"user_id": userID, "input": input}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("server: %s", out.Error)
	}
	return out.Response, nil
}

func postJSON(client *http.Client, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
