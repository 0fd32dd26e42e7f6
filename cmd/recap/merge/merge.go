package mergecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recap/cmd/recap/sqlitepath"
	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/merkle"
)

const mergeLongDesc string = `Merge one or more conversation databases into a target.

Content-addressing makes this a simple union: turns that already
exist in the target are skipped (deduped by hash), and shared
conversation prefixes are stored once.

Examples:
  recap merge source1.db source2.db
  recap merge --sqlite /tmp/merged.db ~/alice/recap.db ~/bob/recap.db`

const mergeShortDesc string = "Merge conversation databases"

type mergeCommander struct {
	sqlitePath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to target SQLite database")

	return cmd
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	targetPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve target database: %w", err)
	}

	storer, err := merkle.NewSQLiteStorer(targetPath)
	if err != nil {
		return fmt.Errorf("could not open target database %s: %w", targetPath, err)
	}
	target := conversation.NewStore(storer)
	defer target.Close()

	var totalNew, totalDuped int

	for _, srcPath := range sources {
		srcNew, srcDuped, err := mergeFrom(ctx, target, srcPath)
		if err != nil {
			return err
		}

		totalNew += srcNew
		totalDuped += srcDuped

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed\n", srcPath, srcNew, srcDuped)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new turns from %d sources (%d already existed) into %s\n",
		totalNew, len(sources), totalDuped, targetPath)

	return nil
}

func mergeFrom(ctx context.Context, target *conversation.Store, srcPath string) (int, int, error) {
	storer, err := merkle.NewSQLiteStorer(srcPath)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open source database %s: %w", srcPath, err)
	}
	source := conversation.NewStore(storer)
	defer source.Close()

	nodes, err := source.Nodes(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("could not list turns from %s: %w", srcPath, err)
	}

	var srcNew, srcDuped int
	for _, n := range nodes {
		isNew, err := target.Import(ctx, n)
		if err != nil {
			return 0, 0, fmt.Errorf("could not put turn %s: %w", n.Hash, err)
		}
		if isNew {
			srcNew++
		} else {
			srcDuped++
		}
	}
	return srcNew, srcDuped, nil
}
