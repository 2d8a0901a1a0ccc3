package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/groupchat"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
)

func (a *app) printGroups(groups []domain.ChatGroup) error {
	if a.flags.jsonOut {
		return printJSON(a.out, groups)
	}
	if len(groups) == 0 {
		fmt.Fprintln(a.out, "No chat groups.")
		return nil
	}
	t := newTable(a.out, "ID", "NAME", "TYPE", "PRIVATE", "MEMBERS")
	for _, g := range groups {
		members := len(g.Members)
		if g.MemberCount != nil {
			members = *g.MemberCount
		}
		t.row(strconv.FormatInt(g.ID, 10), truncate(g.Name, 36), string(g.GroupType), yesNo(g.IsPrivate), strconv.Itoa(members))
	}
	return t.flush()
}

func (a *app) printGroup(g *domain.ChatGroup) error {
	if a.flags.jsonOut {
		return printJSON(a.out, g)
	}
	fmt.Fprintf(a.out, "Group #%d %s (%s)\n", g.ID, g.Name, g.GroupType)
	return nil
}

func senderName(m domain.GroupMessage) string {
	if m.Sender != nil {
		return m.Sender.Name()
	}
	return "#" + strconv.FormatInt(m.SenderID, 10)
}

func (a *app) printMessage(m domain.GroupMessage) {
	fmt.Fprintf(a.out, "[%s] %s: %s\n", formatTime(m.CreatedAt), senderName(m), m.Content)
}

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Group chat",
	}

	groups := &cobra.Command{
		Use:   "groups",
		Short: "List your chat groups",
		Args:  cobra.NoArgs,
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, _ []string) error {
			gs, err := a.api.ChatGroups().List(ctx)
			if err != nil {
				return err
			}
			return a.printGroups(gs)
		}),
	}

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Find public groups to join",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			gs, err := a.api.ChatGroups().Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.printGroups(gs)
		}),
	}

	var (
		description string
		private     bool
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			g, err := a.api.ChatGroups().Create(ctx, domain.ChatGroupCreate{
				Name:        args[0],
				Description: optString(description),
				IsPrivate:   private,
				GroupType:   domain.GroupUserCreated,
			})
			if err != nil {
				return err
			}
			return a.printGroup(g)
		}),
	}
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().BoolVar(&private, "private", false, "hide from search")

	join := &cobra.Command{
		Use:   "join <group-id>",
		Short: "Join a public group",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			groupID, err := parseID(args[0], "group")
			if err != nil {
				return err
			}
			if err := a.api.ChatGroups().Join(ctx, groupID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Joined group #%d\n", groupID)
			return nil
		}),
	}

	var skip, limit int
	messages := &cobra.Command{
		Use:   "messages <group-id>",
		Short: "Show a group's history",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			groupID, err := parseID(args[0], "group")
			if err != nil {
				return err
			}
			ms, err := a.api.ChatGroups().Messages(ctx, groupID, skip, limit)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, ms)
			}
			for _, m := range ms {
				a.printMessage(m)
			}
			return nil
		}),
	}
	messages.Flags().IntVar(&skip, "skip", 0, "messages to skip")
	messages.Flags().IntVar(&limit, "limit", 50, "messages to show")

	send := &cobra.Command{
		Use:   "send <group-id> <text>",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			groupID, err := parseID(args[0], "group")
			if err != nil {
				return err
			}
			m, err := a.api.ChatGroups().Send(ctx, groupID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, m)
			}
			a.printMessage(*m)
			return nil
		}),
	}

	watch := &cobra.Command{
		Use:   "watch <group-id>",
		Short: "Follow a group live; lines typed on stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			groupID, err := parseID(args[0], "group")
			if err != nil {
				return err
			}
			return a.watchGroup(ctx, groupID)
		}),
	}

	cmd.AddCommand(groups, search, create, join, messages, send, watch)
	return cmd
}

func (a *app) watchGroup(ctx context.Context, groupID int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopRefresh := a.startRefresh(ctx)
	defer stopRefresh()

	client := groupchat.New(a.api, groupID, groupchat.WithLogger(a.logger.Named("chat")))
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	go func() {
		sc := bufio.NewScanner(a.input())
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if err := client.SendMessage(line); err != nil {
				fmt.Fprintf(a.errOut, "not sent: %v\n", err)
			}
		}
	}()

	fmt.Fprintf(a.errOut, "Watching group #%d. Type to send, Ctrl-C to leave.\n", groupID)
	for ev := range client.Events() {
		switch ev.Kind {
		case groupchat.EventMessage:
			if ev.Message != nil {
				a.printMessage(*ev.Message)
			}
		case groupchat.EventUserJoined:
			if ev.User != nil {
				fmt.Fprintf(a.out, "* %s joined\n", ev.User.Name())
			}
		case groupchat.EventUserLeft:
			if ev.User != nil {
				fmt.Fprintf(a.out, "* %s left\n", ev.User.Name())
			}
		case groupchat.EventTyping:
			if ev.User != nil && ev.Typing {
				fmt.Fprintf(a.errOut, "* %s is typing...\n", ev.User.Name())
			}
		}
	}

	err := <-done
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, groupchat.ErrNotMember):
		return fmt.Errorf("group #%d: %w; try 'rebelz chat join %d'", groupID, err, groupID)
	}
	if err != nil {
		a.logger.Debug("chat watch ended", zap.Error(err))
	}
	return err
}
