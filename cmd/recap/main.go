package main

import (
	"os"

	"github.com/spf13/cobra"

	mergecmder "github.com/papercomputeco/recap/cmd/recap/merge"
	pushcmder "github.com/papercomputeco/recap/cmd/recap/push"
	servecmder "github.com/papercomputeco/recap/cmd/recap/serve"
	summarizecmder "github.com/papercomputeco/recap/cmd/recap/summarize"
)

const rootLongDesc string = `recap summarizes meeting and video transcripts with a hosted
language model and lets you ask follow-up questions about them.

Run a gateway with "recap serve", then summarize through it with
"recap summarize".`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "recap",
		Short:         "Summarize transcripts and ask follow-up questions",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(summarizecmder.NewSummarizeCmd())
	cmd.AddCommand(pushcmder.NewPushCmd())
	cmd.AddCommand(mergecmder.NewMergeCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
