package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/punchamoorthee/tokenledger/internal/spoynt"
	"github.com/spf13/cobra"
)

var (
	signSecret string
	signFile   string
	signURL    string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Compute the gateway signature for a notification payload",
	Long: `Compute the X-Signature value for a raw notification body.

With --url the signed payload is also delivered, which replays a
notification against a running service.

Examples:
  ledgerctl sign --secret "$SPOYNT_TEST_SECRET" --file notification.json
  cat notification.json | ledgerctl sign --secret s3cret --url http://localhost:8080/api/v1/webhooks/spoynt`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "signing secret")
	signCmd.Flags().StringVar(&signFile, "file", "-", "payload file, - for stdin")
	signCmd.Flags().StringVar(&signURL, "url", "", "deliver the signed payload to this webhook URL")
	_ = signCmd.MarkFlagRequired("secret")
}

func runSign(cmd *cobra.Command, args []string) error {
	body, err := readPayload(cmd, signFile)
	if err != nil {
		return err
	}

	signature := spoynt.Sign(signSecret, body)
	fmt.Fprintln(cmd.OutOrStdout(), signature)

	if signURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, signURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(spoynt.SignatureHeader, signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Status, bytes.TrimSpace(reply))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected the notification with %d", resp.StatusCode)
	}
	return nil
}

// readPayload returns the exact bytes to sign, without trimming.
func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}
