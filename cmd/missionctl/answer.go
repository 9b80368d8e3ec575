package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mission/pkg/mission/prompt"
)

func newAnswerCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "answer [QUESTION_ID CODE]",
		Short: "Answer a question asked by a running mission",
		Long: `Answer a question asked by a mission running in another process.
Both processes must share prompts through Redis (redis.addr).
With --list, print the pending questions instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.settings.Redis.Addr == "" {
				return errors.New("answering from another process needs redis.addr (MISSION_REDIS_ADDR or --redis-addr)")
			}
			store, err := openPromptStore(cmd.Context(), a.settings.Redis, a.logger)
			if err != nil {
				return err
			}
			if c, ok := store.(io.Closer); ok {
				defer c.Close()
			}
			broker := prompt.NewBroker(store, prompt.WithLogger(a.logger))

			if list {
				pending, err := broker.Pending(cmd.Context())
				if err != nil {
					return err
				}
				for _, q := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", q.ID, q.Node, q.Text)
					for _, o := range q.Options {
						fmt.Fprintf(cmd.OutOrStdout(), "\t%d\t%s\n", o.AnswerCode, o.Text)
					}
				}
				return nil
			}

			code, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("answer code %q: %w", args[1], err)
			}
			if err := broker.Answer(cmd.Context(), args[0], code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "answered %s with %d\n", args[0], code)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list pending questions")
	return cmd
}
