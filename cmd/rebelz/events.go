package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
)

var (
	viewEvents   = guard.Requirement{Permission: rbac.PermViewEvents}
	manageEvents = guard.Requirement{Permission: rbac.PermManageEvents}
)

func parseID(s, what string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return v, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// parseTime accepts RFC 3339 or a local date with optional minutes.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD HH:MM)", s)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (a *app) printEvents(events []domain.Event) error {
	if a.flags.jsonOut {
		return printJSON(a.out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No events.")
		return nil
	}
	t := newTable(a.out, "ID", "TYPE", "TITLE", "START", "END", "CAPACITY", "PUBLISHED")
	for _, e := range events {
		t.row(strconv.FormatInt(e.ID, 10), e.Type, truncate(e.Title, 40),
			formatTime(e.StartTime), formatTime(e.EndTime), intOrDash(e.Capacity), yesNo(e.IsPublished))
	}
	return t.flush()
}

func (a *app) printEvent(e *domain.Event) error {
	if a.flags.jsonOut {
		return printJSON(a.out, e)
	}
	heading(a.out, fmt.Sprintf("#%d %s", e.ID, e.Title))
	fmt.Fprintf(a.out, "Type:      %s\n", e.Type)
	fmt.Fprintf(a.out, "Starts:    %s\n", formatTime(e.StartTime))
	fmt.Fprintf(a.out, "Ends:      %s\n", formatTime(e.EndTime))
	fmt.Fprintf(a.out, "Location:  %s\n", fallback(deref(e.Location), "-"))
	fmt.Fprintf(a.out, "Capacity:  %s\n", intOrDash(e.Capacity))
	fmt.Fprintf(a.out, "Published: %s\n", yesNo(e.IsPublished))
	if d := deref(e.Description); d != "" {
		fmt.Fprintf(a.out, "\n%s\n", d)
	}
	return nil
}

func (a *app) printMap(m map[string]string, keyHeader, valueHeader string) error {
	if a.flags.jsonOut {
		return printJSON(a.out, m)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := newTable(a.out, keyHeader, valueHeader)
	for _, k := range keys {
		t.row(k, m[k])
	}
	return t.flush()
}

type eventFlags struct {
	eventType   string
	title       string
	description string
	location    string
	start       string
	end         string
	capacity    int
	data        string
	publish     bool
}

func (f *eventFlags) bind(cmd *cobra.Command, withType bool) {
	fs := cmd.Flags()
	if withType {
		fs.StringVar(&f.eventType, "type", "", "event type, see 'rebelz events types'")
	}
	fs.StringVar(&f.title, "title", "", "title")
	fs.StringVar(&f.description, "description", "", "description")
	fs.StringVar(&f.location, "location", "", "location")
	fs.StringVar(&f.start, "start", "", "start time")
	fs.StringVar(&f.end, "end", "", "end time")
	fs.IntVar(&f.capacity, "capacity", 0, "maximum attendees")
	fs.StringVar(&f.data, "data", "", "type-specific fields as a JSON object")
	fs.BoolVar(&f.publish, "publish", false, "publish the event")
}

func rawData(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	return json.RawMessage(s), nil
}

func (f *eventFlags) create(cmd *cobra.Command) (domain.EventCreate, error) {
	in := domain.EventCreate{
		Type:        f.eventType,
		Title:       f.title,
		Description: optString(f.description),
		Location:    optString(f.location),
		IsPublished: f.publish,
	}
	var err error
	if in.StartTime, err = parseTime(f.start); err != nil {
		return in, err
	}
	if in.EndTime, err = parseTime(f.end); err != nil {
		return in, err
	}
	if cmd.Flags().Changed("capacity") {
		in.Capacity = &f.capacity
	}
	in.Data, err = rawData(f.data)
	return in, err
}

func (f *eventFlags) update(cmd *cobra.Command) (domain.EventUpdate, error) {
	var in domain.EventUpdate
	changed := cmd.Flags().Changed
	if changed("title") {
		in.Title = &f.title
	}
	if changed("description") {
		in.Description = &f.description
	}
	if changed("location") {
		in.Location = &f.location
	}
	if changed("start") {
		t, err := parseTime(f.start)
		if err != nil {
			return in, err
		}
		in.StartTime = &t
	}
	if changed("end") {
		t, err := parseTime(f.end)
		if err != nil {
			return in, err
		}
		in.EndTime = &t
	}
	if changed("capacity") {
		in.Capacity = &f.capacity
	}
	if changed("publish") {
		in.IsPublished = &f.publish
	}
	var err error
	in.Data, err = rawData(f.data)
	return in, err
}

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Browse and manage events",
	}

	var eventType string
	list := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: a.route(viewEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
			events, err := a.api.Events().List(ctx, eventType)
			if err != nil {
				return err
			}
			return a.printEvents(events)
		}),
	}
	list.Flags().StringVar(&eventType, "type", "", "only events of this type")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(viewEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			e, err := a.api.Events().Get(ctx, eventID)
			if err != nil {
				return err
			}
			return a.printEvent(e)
		}),
	}

	var (
		detailed bool
		category string
	)
	types := &cobra.Command{
		Use:   "types",
		Short: "List event types",
		Args:  cobra.NoArgs,
		RunE: a.route(viewEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
			switch {
			case category != "":
				raw, err := a.api.Events().TypesInCategory(ctx, category)
				if err != nil {
					return err
				}
				return printJSON(a.out, raw)
			case detailed:
				m, err := a.api.Events().TypesDetailed(ctx)
				if err != nil {
					return err
				}
				return printJSON(a.out, m)
			}
			m, err := a.api.Events().Types(ctx)
			if err != nil {
				return err
			}
			return a.printMap(m, "TYPE", "NAME")
		}),
	}
	types.Flags().BoolVar(&detailed, "detailed", false, "print per-type metadata")
	types.Flags().StringVar(&category, "category", "", "only types in this category, see 'rebelz events categories'")

	categories := &cobra.Command{
		Use:   "categories",
		Short: "List event categories",
		Args:  cobra.NoArgs,
		RunE: a.route(viewEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
			m, err := a.api.Events().Categories(ctx)
			if err != nil {
				return err
			}
			return a.printMap(m, "CATEGORY", "NAME")
		}),
	}

	var cf eventFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Args:  cobra.NoArgs,
	}
	create.RunE = a.route(manageEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
		in, err := cf.create(create)
		if err != nil {
			return err
		}
		e, err := a.api.Events().Create(ctx, in)
		if err != nil {
			return err
		}
		return a.printEvent(e)
	})
	cf.bind(create, true)
	for _, name := range []string{"type", "title", "start", "end"} {
		_ = create.MarkFlagRequired(name)
	}

	var uf eventFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an event",
		Args:  cobra.ExactArgs(1),
	}
	update.RunE = a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
		eventID, err := parseID(args[0], "event")
		if err != nil {
			return err
		}
		in, err := uf.update(update)
		if err != nil {
			return err
		}
		e, err := a.api.Events().Update(ctx, eventID, in)
		if err != nil {
			return err
		}
		return a.printEvent(e)
	})
	uf.bind(update, false)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			if err := a.api.Events().Delete(ctx, eventID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted event #%d\n", eventID)
			return nil
		}),
	}

	cmd.AddCommand(list, get, types, categories, create, update, del)
	return cmd
}
