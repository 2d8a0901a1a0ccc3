package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
)

func newCompleteCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "complete <prompt>",
		Short: "Run a one-off completion without the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			var msgs []domain.AssistantMessage
			if system != "" {
				msgs = append(msgs, domain.AssistantMessage{Role: "system", Content: system})
			}
			msgs = append(msgs, domain.AssistantMessage{Role: "user", Content: strings.Join(args, " ")})

			c, err := a.api.Complete(ctx, msgs)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, c)
			}
			if len(c.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}
			fmt.Fprintf(a.out, "assistant> %s\n", c.Choices[0].Message.Content)
			return nil
		}),
	}
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	return cmd
}

func newSuggestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <text>",
		Short: "Ask for completions of partially typed text",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			out, err := a.api.Copilot().Suggest(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, out)
			}
			if len(out) == 0 {
				fmt.Fprintln(a.out, "No suggestions.")
			}
			for _, s := range out {
				var text string
				if unquoted, err := strconv.Unquote(string(s)); err == nil {
					text = unquoted
				} else {
					text = string(s)
				}
				fmt.Fprintf(a.out, "  %s\n", text)
			}
			return nil
		}),
	}
}

func newActionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Run assistant actions directly",
	}

	var eventType string
	search := &cobra.Command{
		Use:   "search [text]",
		Short: "Search published events",
		Args:  cobra.ArbitraryArgs,
		RunE: a.route(viewEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			res, err := a.api.Copilot().SearchEvents(ctx, domain.ActionSearch{
				Query:     strings.Join(args, " "),
				EventType: eventType,
			})
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, res)
			}
			fmt.Fprintln(a.out, res.Message)
			if len(res.Events) == 0 {
				return nil
			}
			t := newTable(a.out, "ID", "TYPE", "START", "TITLE")
			for _, e := range res.Events {
				t.row(strconv.FormatInt(e.ID, 10), e.EventType, e.StartDateTime, truncate(e.Title, 50))
			}
			return t.flush()
		}),
	}
	search.Flags().StringVar(&eventType, "type", "", "only events of this type")

	var in domain.ActionEventCreate
	var start, end string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event through the assistant",
		Args:  cobra.NoArgs,
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
			var err error
			if in.StartDateTime, err = isoTime(start); err != nil {
				return err
			}
			if in.EndDateTime, err = isoTime(end); err != nil {
				return err
			}
			res, err := a.api.Copilot().CreateEvent(ctx, in)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, res)
			}
			fmt.Fprintln(a.out, res.Message)
			return nil
		}),
	}
	f := create.Flags()
	f.StringVar(&in.Title, "title", "", "title")
	f.StringVar(&in.EventType, "type", "", "event type")
	f.StringVar(&in.Description, "description", "", "description")
	f.StringVar(&start, "start", "", "start time")
	f.StringVar(&end, "end", "", "end time")
	for _, name := range []string{"title", "type", "start", "end"} {
		_ = create.MarkFlagRequired(name)
	}

	register := &cobra.Command{
		Use:   "register <event-id>",
		Short: "Register for an event through the assistant",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			res, err := a.api.Copilot().RegisterForEvent(ctx, eventID)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, res)
			}
			fmt.Fprintln(a.out, res.Message)
			return nil
		}),
	}

	cmd.AddCommand(search, create, register)
	return cmd
}

// isoTime accepts the same layouts as the event commands and renders the
// result in the ISO 8601 form the action runtime parses.
func isoTime(s string) (string, error) {
	t, err := parseTime(s)
	if err != nil {
		return "", err
	}
	return t.Format(time.RFC3339), nil
}
