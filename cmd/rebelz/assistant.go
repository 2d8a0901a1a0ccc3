package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/assistant"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
)

const connectTimeout = 15 * time.Second

func (a *app) reconnectPolicy() assistant.ReconnectPolicy {
	p := assistant.DefaultReconnectPolicy()
	ac := a.cfg.Assistant
	if ac.ReconnectDelay > 0 {
		p.Delay = ac.ReconnectDelay
	}
	if ac.MaxDelay > 0 {
		p.MaxDelay = ac.MaxDelay
	}
	p.MaxAttempts = ac.MaxAttempts
	p.Exponential = ac.Exponential
	return p
}

// openAssistant starts the channel in the background and waits for the
// stream to be acknowledged.
func (a *app) openAssistant(ctx context.Context) (*assistant.Channel, <-chan error, error) {
	ch := assistant.New(a.api,
		assistant.WithLogger(a.logger.Named("assistant")),
		assistant.WithReconnectPolicy(a.reconnectPolicy()),
	)
	updates, unsubscribe := ch.Conversation().Subscribe(8)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	for !ch.Connected() {
		select {
		case <-updates:
		case err := <-done:
			done <- err
			return nil, done, fmt.Errorf("assistant: %w", err)
		case <-timer.C:
			ch.Close()
			return nil, done, fmt.Errorf("assistant: %w", assistant.ErrNotConnected)
		case <-ctx.Done():
			return nil, done, ctx.Err()
		}
	}
	return ch, done, nil
}

func (a *app) printAssistantMessage(m assistant.Message) {
	if a.flags.jsonOut {
		_ = printJSON(a.out, m)
		return
	}
	if m.Title != "" {
		fmt.Fprintf(a.out, "%s\n", m.Title)
	}
	if m.Content != "" {
		fmt.Fprintf(a.out, "assistant> %s\n", m.Content)
	}
	for _, e := range m.Events {
		when := e.StartTime
		if when == "" {
			when = "-"
		}
		fmt.Fprintf(a.out, "  #%d  %s  %s\n", e.ID, when, truncate(e.Title, 50))
	}
}

func newAssistantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistant",
		Short: "Chat with the platform assistant",
		Args:  cobra.NoArgs,
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, _ []string) error {
			return a.assistantREPL(ctx)
		}),
	}

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			ch, _, err := a.openAssistant(ctx)
			if err != nil {
				return err
			}
			defer ch.Close()

			m, err := ch.Send(ctx, strings.Join(args, " "))
			if m != nil {
				a.printAssistantMessage(*m)
			}
			return err
		}),
	}
	cmd.AddCommand(ask, newCompleteCmd(a), newSuggestCmd(a), newActionCmd(a))
	return cmd
}

func (a *app) assistantREPL(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopRefresh := a.startRefresh(ctx)
	defer stopRefresh()

	ch, done, err := a.openAssistant(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	updates, unsubscribe := ch.Conversation().Subscribe(32)
	defer unsubscribe()
	go func() {
		for u := range updates {
			switch u.Kind {
			case assistant.UpdateMessage:
				if u.Message.Role == assistant.RoleAssistant {
					a.printAssistantMessage(u.Message)
				}
			case assistant.UpdateTyping:
				if u.Typing {
					fmt.Fprintln(a.errOut, "assistant is typing...")
				}
			case assistant.UpdateConnection:
				if !u.Connected {
					fmt.Fprintln(a.errOut, "connection lost, reconnecting...")
				} else {
					fmt.Fprintln(a.errOut, "reconnected")
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.input())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(a.errOut, "Connected to the assistant. Ask about events; Ctrl-D to quit.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			_, err := ch.Send(ctx, line)
			switch {
			case err == nil, errors.Is(err, assistant.ErrEmptyMessage):
			case errors.Is(err, apiclient.ErrUnauthorized):
				return err
			case errors.Is(err, assistant.ErrNotConnected), errors.Is(err, assistant.ErrSendInFlight):
				fmt.Fprintf(a.errOut, "not sent: %v\n", err)
			default:
				a.logger.Debug("assistant send", zap.Error(err))
			}
		}
	}
}
