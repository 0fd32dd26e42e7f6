package summarizecmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recap/cmd/recap/password"
	"github.com/papercomputeco/recap/pkg/client"
	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/transcript"
)

const summarizeLongDesc string = `Summarize a transcript through a recap gateway.

The transcript is read from a file, from stdin ("-"), or fetched by
the gateway's transcript service when given a URL. The summary is
streamed as it is produced; transcripts too large for a single
request are processed as a background job that is polled until done.

With --interactive, follow-up questions about the transcript are read
from stdin after the summary. Ctrl-C cancels the answer in progress
without ending the session.

Examples:
  recap summarize meeting.txt
  cat meeting.txt | recap summarize -p "List the action items" -
  recap summarize -i https://www.youtube.com/watch?v=dQw4w9WgXcQ`

const summarizeShortDesc string = "Summarize a transcript and ask follow-up questions"

// DefaultInstruction is used when no --prompt is given.
const DefaultInstruction = "Summarize this transcript as a concise list of bullet points."

// EnvGateway overrides the default gateway URL.
const EnvGateway = "RECAP_GATEWAY"

type summarizeCommander struct {
	gatewayURL   string
	password     string
	instruction  string
	interactive  bool
	plain        bool
	pollInterval time.Duration
}

func NewSummarizeCmd() *cobra.Command {
	cmder := &summarizeCommander{}

	cmd := &cobra.Command{
		Use:   "summarize <file|-|url>",
		Short: summarizeShortDesc,
		Long:  summarizeLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	defaultGateway := os.Getenv(EnvGateway)
	if defaultGateway == "" {
		defaultGateway = "http://localhost:8080"
	}

	cmd.Flags().StringVarP(&cmder.gatewayURL, "gateway", "g", defaultGateway, "Gateway URL (default $"+EnvGateway+")")
	cmd.Flags().StringVar(&cmder.password, "password", "", "Gateway password (default $"+password.EnvPassword+")")
	cmd.Flags().StringVarP(&cmder.instruction, "prompt", "p", DefaultInstruction, "Instruction sent with the transcript")
	cmd.Flags().BoolVarP(&cmder.interactive, "interactive", "i", false, "Ask follow-up questions after the summary")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Print raw text without styling")
	cmd.Flags().DurationVar(&cmder.pollInterval, "poll-interval", 3*time.Second, "Interval between background job polls")

	return cmd
}

func (c *summarizeCommander) run(ctx context.Context, cmd *cobra.Command, source string) error {
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.pollInterval)
	}

	pw, err := password.Resolve(c.password, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s := &summarizer{
		client:       client.New(c.gatewayURL, pw, nil),
		session:      conversation.NewSession(),
		out:          newRenderer(cmd.OutOrStdout(), c.plain),
		pollInterval: c.pollInterval,
	}

	text, err := s.fetch(ctx, source, cmd)
	if err != nil {
		return err
	}

	if err := s.summarize(ctx, text, c.instruction); err != nil {
		return err
	}

	if !c.interactive {
		return nil
	}
	return s.converse(ctx, bufio.NewScanner(cmd.InOrStdin()))
}

// summarizer drives one session against the gateway.
type summarizer struct {
	client       *client.Client
	session      *conversation.Session
	out          *renderer
	pollInterval time.Duration
}

func (s *summarizer) fetch(ctx context.Context, source string, cmd *cobra.Command) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		s.out.status("Fetching transcript...")
		text, err := s.client.Transcript(ctx, source)
		if err != nil {
			return "", fmt.Errorf("could not fetch transcript: %w", err)
		}
		return transcript.Require(source, text)
	}

	return transcript.FileSource{In: cmd.InOrStdin()}.Fetch(ctx, source)
}

func (s *summarizer) summarize(ctx context.Context, text, instruction string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reply, err := s.client.Summarize(turnCtx, text, instruction, s.out.delta)
	if err != nil {
		return fmt.Errorf("summary failed: %w", err)
	}

	final, err := s.finish(turnCtx, reply)
	if err != nil {
		return fmt.Errorf("summary failed: %w", err)
	}

	return s.session.Seed(text, final)
}

// finish waits out a deferred reply and prints what the stream did not.
func (s *summarizer) finish(ctx context.Context, reply client.Reply) (conversation.Reply, error) {
	if reply.Notice != "" {
		s.out.notice(reply.Notice)
	}

	if reply.Job == nil {
		s.out.delta("\n")
		return conversation.Reply{
			Text:             reply.Text,
			ResponseID:       reply.ResponseID,
			ConversationHash: reply.ConversationHash,
		}, nil
	}

	s.out.status("Transcript queued for background processing.")
	summary, err := s.client.Wait(ctx, *reply.Job, s.pollInterval, func(status string, elapsed time.Duration) {
		s.out.status(fmt.Sprintf("  %s (%s)", status, elapsed.Round(time.Second)))
	})
	if err != nil {
		return conversation.Reply{}, err
	}

	s.out.markdown(summary)
	return conversation.Reply{Text: summary}, nil
}

// converse answers questions from lines until EOF or "quit".
func (s *summarizer) converse(ctx context.Context, lines *bufio.Scanner) error {
	for {
		s.out.prompt()
		if !lines.Scan() {
			return lines.Err()
		}

		question := strings.TrimSpace(lines.Text())
		switch question {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		if err := s.ask(ctx, question); err != nil {
			return err
		}
	}
}

// ask runs one follow-up. Cancelled or failed answers are recorded and the
// session continues; only a cancelled parent context ends it.
func (s *summarizer) ask(ctx context.Context, question string) error {
	messages, err := s.session.Ask(question)
	if err != nil {
		return err
	}

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reply, err := s.client.FollowUp(turnCtx, messages, s.out.delta)
	if err == nil {
		var final conversation.Reply
		final, err = s.finish(turnCtx, reply)
		if err == nil {
			return s.session.Complete(final)
		}
	}

	if cancelErr := s.session.Cancel(reply.Text); cancelErr != nil {
		return cancelErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, context.Canceled) {
		s.out.delta("\n")
		s.out.status("[cancelled]")
		return nil
	}
	s.out.delta("\n")
	s.out.failure(err.Error())
	return nil
}
