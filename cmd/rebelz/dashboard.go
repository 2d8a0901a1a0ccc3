package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
	"github.com/KobaKhit/rebelzapp-sub001/internal/navigation"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
)

type dashboard struct {
	Mode          navigation.Mode       `json:"mode"`
	User          *domain.User          `json:"user"`
	Upcoming      []domain.Event        `json:"upcoming_events,omitempty"`
	Registrations []domain.Registration `json:"registrations,omitempty"`
	Groups        []domain.ChatGroup    `json:"chat_groups,omitempty"`
	UserCount     *int                  `json:"user_count,omitempty"`
	Navigation    []navigation.Item     `json:"navigation"`
}

const upcomingLimit = 5

// loadDashboard fetches the sections the grants allow, concurrently. A
// section that fails is logged and left empty, except that a rejected token
// aborts the whole dashboard.
func (a *app) loadDashboard(ctx context.Context, res guard.Result, view navigation.View) (*dashboard, error) {
	d := &dashboard{Mode: view.Mode, User: res.Session.User, Navigation: view.Items}
	g, gctx := errgroup.WithContext(ctx)
	section := func(name string, load func(context.Context) error) {
		g.Go(func() error {
			err := load(gctx)
			if err == nil || errors.Is(err, apiclient.ErrUnauthorized) {
				return err
			}
			a.logger.Debug("dashboard section unavailable", zap.String("section", name), zap.Error(err))
			return nil
		})
	}

	if res.Grants.HasPermission(rbac.PermViewEvents) {
		section("events", func(ctx context.Context) error {
			events, err := a.api.Events().List(ctx, "")
			if err != nil {
				return err
			}
			d.Upcoming = upcoming(events, time.Now(), upcomingLimit)
			return nil
		})
	}
	if !view.Admin() {
		section("registrations", func(ctx context.Context) error {
			regs, err := a.api.Registrations().Mine(ctx)
			d.Registrations = regs
			return err
		})
		section("chat groups", func(ctx context.Context) error {
			groups, err := a.api.ChatGroups().List(ctx)
			d.Groups = groups
			return err
		})
	}
	if view.Admin() && res.Grants.HasPermission(rbac.PermManageUsers) {
		section("users", func(ctx context.Context) error {
			users, err := a.api.Users().List(ctx)
			if err != nil {
				return err
			}
			n := len(users)
			d.UserCount = &n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

func upcoming(events []domain.Event, now time.Time, limit int) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if e.EndTime.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *app) renderDashboard(ctx context.Context, res guard.Result) error {
	view, err := a.views.View(res.Grants)
	if err != nil {
		a.logger.Debug("view preference unreadable", zap.Error(err))
	}
	d, err := a.loadDashboard(ctx, res, view)
	if err != nil {
		return err
	}
	if a.flags.jsonOut {
		return printJSON(a.out, d)
	}

	title := "Dashboard"
	if view.Admin() {
		title = "Admin dashboard"
	}
	heading(a.out, fmt.Sprintf("%s: %s", title, d.User.DisplayName()))

	if d.UserCount != nil {
		fmt.Fprintf(a.out, "Users: %d\n", *d.UserCount)
	}
	if res.Grants.HasPermission(rbac.PermViewEvents) {
		fmt.Fprintln(a.out, "\nUpcoming events:")
		if len(d.Upcoming) == 0 {
			fmt.Fprintln(a.out, "  (none)")
		}
		for _, e := range d.Upcoming {
			fmt.Fprintf(a.out, "  #%d  %s  %s\n", e.ID, formatTime(e.StartTime), truncate(e.Title, 50))
		}
	}
	if !view.Admin() {
		fmt.Fprintf(a.out, "\nMy registrations: %d\n", len(d.Registrations))
		fmt.Fprintf(a.out, "Chat groups: %d\n", len(d.Groups))
	}

	fmt.Fprintln(a.out)
	return a.printNav(view)
}

// renderLanding shows the landing view in place of a route the user may not
// open.
func (a *app) renderLanding(ctx context.Context, res guard.Result) error {
	return a.renderDashboard(ctx, res)
}

func (a *app) printNav(view navigation.View) error {
	t := newTable(a.out, "SECTION", "ROUTE", "COMMAND")
	for _, it := range view.Items {
		t.row(it.Label, it.Path, it.Command)
	}
	if err := t.flush(); err != nil {
		return err
	}
	if view.CanSwitch {
		other := navigation.ModeAdmin
		if view.Admin() {
			other = navigation.ModeConsumer
		}
		fmt.Fprintf(a.out, "\nSwitch view: rebelz view set %s\n", other)
	}
	return nil
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"home"},
		Short:   "Show the landing view for the signed-in user",
		Args:    cobra.NoArgs,
		RunE: a.route(guard.Requirement{}, func(ctx context.Context, res guard.Result, _ []string) error {
			return a.renderDashboard(ctx, res)
		}),
	}
}

func newNavCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "List the sections available in the current view",
		Args:  cobra.NoArgs,
		RunE: a.route(guard.Requirement{}, func(_ context.Context, res guard.Result, _ []string) error {
			view, err := a.views.View(res.Grants)
			if err != nil {
				a.logger.Debug("view preference unreadable", zap.Error(err))
			}
			if a.flags.jsonOut {
				return printJSON(a.out, view)
			}
			return a.printNav(view)
		}),
	}
}

func (a *app) printView(view navigation.View) error {
	if a.flags.jsonOut {
		return printJSON(a.out, view)
	}
	fmt.Fprintf(a.out, "View: %s (landing %s)\n", view.Mode, view.Landing)
	if !view.CanSwitch {
		fmt.Fprintln(a.out, "This account cannot switch views.")
	}
	return nil
}

func switchError(err error) error {
	if errors.Is(err, navigation.ErrCannotSwitch) {
		return errors.New("only accounts with admin permissions can switch views")
	}
	return err
}

func newViewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show or change the admin/consumer view",
		Args:  cobra.NoArgs,
		RunE: a.route(guard.Requirement{}, func(_ context.Context, res guard.Result, _ []string) error {
			view, _ := a.views.View(res.Grants)
			return a.printView(view)
		}),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:       "set admin|consumer",
			Short:     "Choose the view",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{string(navigation.ModeAdmin), string(navigation.ModeConsumer)},
			RunE: a.route(guard.Requirement{}, func(_ context.Context, res guard.Result, args []string) error {
				mode, err := navigation.ParseMode(args[0])
				if err != nil {
					return err
				}
				view, err := a.views.SetMode(res.Grants, mode)
				if err != nil {
					return switchError(err)
				}
				return a.printView(view)
			}),
		},
		&cobra.Command{
			Use:   "toggle",
			Short: "Switch between the admin and consumer view",
			Args:  cobra.NoArgs,
			RunE: a.route(guard.Requirement{}, func(_ context.Context, res guard.Result, _ []string) error {
				view, err := a.views.Toggle(res.Grants)
				if err != nil {
					return switchError(err)
				}
				return a.printView(view)
			}),
		},
	)
	return cmd
}
