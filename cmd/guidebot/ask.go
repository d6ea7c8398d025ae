package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calque-ai/guidebot/pkg/config"
	"github.com/calque-ai/guidebot/pkg/guidebot"
)

const askPrompt = "질문을 입력하세요: "

func newAskCmd(opts *rootOptions) *cobra.Command {
	var backend, session string
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one question, or read questions from stdin when none is given",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, ctx, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			s, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			bot, err := s.bot(backend)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				reply, _, err := bot.Ask(ctx, session, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Text())
				return nil
			}
			return repl(cmd.InOrStdin(), out, func(q string) (string, error) {
				reply, _, err := bot.Ask(ctx, session, q)
				return reply.Text(), err
			})
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", config.BackendPrimary, "backend answering the question")
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id keeping the conversation")
	return cmd
}

// repl answers one question per input line until EOF. A failed answer is
// reported and the loop continues.
func repl(in io.Reader, out io.Writer, ask func(string) (string, error)) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, askPrompt)
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		if q != "" {
			answer, err := ask(q)
			if err != nil {
				fmt.Fprintln(out, guidebot.MessageRetry)
			} else {
				fmt.Fprintln(out, answer)
			}
		}
		fmt.Fprint(out, askPrompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
