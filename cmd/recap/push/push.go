package pushcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recap/cmd/recap/password"
	"github.com/papercomputeco/recap/cmd/recap/sqlitepath"
	"github.com/papercomputeco/recap/gateway"
	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/merkle"
)

const pushLongDesc string = `Push local conversations to a remote recap gateway.

Reads every conversation turn from the local SQLite database and
POSTs them to the gateway's /api/conversations/nodes endpoint.
Content-addressing ensures duplicates are automatically skipped on
the gateway side.

Examples:
  recap push http://192.168.1.42:8080
  recap push --sqlite ~/.recap/recap.db http://localhost:8080`

const pushShortDesc string = "Push conversations to a remote recap gateway"

type pushCommander struct {
	sqlitePath string
	password   string
	batchSize  int
}

func NewPushCmd() *cobra.Command {
	cmder := &pushCommander{}

	cmd := &cobra.Command{
		Use:   "push <gateway-url>",
		Short: pushShortDesc,
		Long:  pushLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to local SQLite database")
	cmd.Flags().StringVarP(&cmder.password, "password", "p", "", "Gateway password (default $"+password.EnvPassword+")")
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 500, "Turns per HTTP request")

	return cmd
}

func (c *pushCommander) run(ctx context.Context, cmd *cobra.Command, serverURL string) error {
	serverURL = strings.TrimRight(serverURL, "/")
	if c.batchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}

	dbPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve local database: %w", err)
	}

	storer, err := merkle.NewSQLiteStorer(dbPath)
	if err != nil {
		return fmt.Errorf("could not open local database %s: %w", dbPath, err)
	}
	store := conversation.NewStore(storer)
	defer store.Close()

	nodes, err := store.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("could not list local turns: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local conversations to push.")
		return nil
	}

	pw, err := password.Resolve(c.password, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %d turns from %s to %s\n", len(nodes), dbPath, serverURL)

	var totalNew, totalDup, totalErr int

	// Nodes are ordered parents first, so every batch only references
	// parents pushed in the same or an earlier batch.
	for i := 0; i < len(nodes); i += c.batchSize {
		end := min(i+c.batchSize, len(nodes))
		batch := nodes[i:end]

		resp, err := postBatch(ctx, serverURL, pw, batch)
		if err != nil {
			return fmt.Errorf("push failed on batch %d-%d: %w", i, end-1, err)
		}

		totalNew += resp.New
		totalDup += resp.Duplicate
		totalErr += resp.Errors
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d new turns (%d already existed, %d errors)\n",
		totalNew, totalDup, totalErr)

	return nil
}

func postBatch(ctx context.Context, serverURL, pw string, nodes []*merkle.Node) (*gateway.PushResponse, error) {
	body, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("could not marshal turns: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/conversations/nodes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.PasswordHeader, pw)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result gateway.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	return &result, nil
}
