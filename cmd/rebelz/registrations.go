package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
)

var signedInOnly = guard.Requirement{}

func (a *app) printRegistrations(regs []domain.Registration) error {
	if a.flags.jsonOut {
		return printJSON(a.out, regs)
	}
	if len(regs) == 0 {
		fmt.Fprintln(a.out, "No registrations.")
		return nil
	}
	t := newTable(a.out, "ID", "EVENT", "USER", "STATUS", "REGISTERED")
	for _, r := range regs {
		event := fallback(deref(r.EventTitle), "#"+strconv.FormatInt(r.EventID, 10))
		user := fallback(deref(r.UserFullName), fallback(deref(r.UserEmail), "#"+strconv.FormatInt(r.UserID, 10)))
		t.row(strconv.FormatInt(r.ID, 10), truncate(event, 36), truncate(user, 28), string(r.Status), formatTime(r.RegistrationDate))
	}
	return t.flush()
}

func (a *app) printRegistration(r *domain.Registration) error {
	if a.flags.jsonOut {
		return printJSON(a.out, r)
	}
	fmt.Fprintf(a.out, "Registration #%d for event #%d: %s\n", r.ID, r.EventID, r.Status)
	return nil
}

type registrationFlags struct {
	notes     string
	emergency string
	dietary   string
	special   string
	status    string
}

func (f *registrationFlags) bind(cmd *cobra.Command, withStatus bool) {
	fs := cmd.Flags()
	fs.StringVar(&f.notes, "notes", "", "notes for the organisers")
	fs.StringVar(&f.emergency, "emergency-contact", "", "emergency contact")
	fs.StringVar(&f.dietary, "dietary", "", "dietary restrictions")
	fs.StringVar(&f.special, "special-needs", "", "special needs")
	if withStatus {
		fs.StringVar(&f.status, "status", "", "pending, confirmed, waitlist or cancelled")
	}
}

func newRegistrationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registrations",
		Aliases: []string{"reg"},
		Short:   "Register for events and manage registrations",
	}

	var rf registrationFlags
	register := &cobra.Command{
		Use:   "register <event-id>",
		Short: "Register for an event",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			r, err := a.api.Registrations().Register(ctx, domain.RegistrationCreate{
				EventID:             eventID,
				Notes:               optString(rf.notes),
				EmergencyContact:    optString(rf.emergency),
				DietaryRestrictions: optString(rf.dietary),
				SpecialNeeds:        optString(rf.special),
			})
			if err != nil {
				return err
			}
			return a.printRegistration(r)
		}),
	}
	rf.bind(register, false)

	my := &cobra.Command{
		Use:   "my",
		Short: "List your registrations",
		Args:  cobra.NoArgs,
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, _ []string) error {
			regs, err := a.api.Registrations().Mine(ctx)
			if err != nil {
				return err
			}
			return a.printRegistrations(regs)
		}),
	}

	cancel := &cobra.Command{
		Use:   "cancel <registration-id>",
		Short: "Cancel a registration",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(signedInOnly, func(ctx context.Context, _ guard.Result, args []string) error {
			regID, err := parseID(args[0], "registration")
			if err != nil {
				return err
			}
			if err := a.api.Registrations().Cancel(ctx, regID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Cancelled registration #%d\n", regID)
			return nil
		}),
	}

	var filter apiclient.RegistrationFilter
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registrations across events",
		Args:  cobra.NoArgs,
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, _ []string) error {
			filter.Status = domain.RegistrationStatus(status)
			regs, err := a.api.Registrations().List(ctx, filter)
			if err != nil {
				return err
			}
			return a.printRegistrations(regs)
		}),
	}
	lf := list.Flags()
	lf.Int64Var(&filter.EventID, "event", 0, "only this event")
	lf.Int64Var(&filter.UserID, "user", 0, "only this user")
	lf.StringVar(&status, "status", "", "only this status")
	lf.IntVar(&filter.Limit, "limit", 0, "page size")
	lf.IntVar(&filter.Offset, "offset", 0, "page offset")

	var uf registrationFlags
	update := &cobra.Command{
		Use:   "update <registration-id>",
		Short: "Change a registration's status or details",
		Args:  cobra.ExactArgs(1),
	}
	update.RunE = a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
		regID, err := parseID(args[0], "registration")
		if err != nil {
			return err
		}
		var in domain.RegistrationUpdate
		changed := update.Flags().Changed
		if changed("status") {
			s := domain.RegistrationStatus(uf.status)
			in.Status = &s
		}
		if changed("notes") {
			in.Notes = &uf.notes
		}
		if changed("emergency-contact") {
			in.EmergencyContact = &uf.emergency
		}
		if changed("dietary") {
			in.DietaryRestrictions = &uf.dietary
		}
		if changed("special-needs") {
			in.SpecialNeeds = &uf.special
		}
		r, err := a.api.Registrations().Update(ctx, regID, in)
		if err != nil {
			return err
		}
		return a.printRegistration(r)
	})
	uf.bind(update, true)

	stats := &cobra.Command{
		Use:   "stats <event-id>",
		Short: "Show registration totals for an event",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			s, err := a.api.Registrations().Stats(ctx, eventID)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, s)
			}
			heading(a.out, fmt.Sprintf("#%d %s", s.EventID, s.EventTitle))
			fmt.Fprintf(a.out, "Capacity:   %s\n", intOrDash(s.TotalCapacity))
			fmt.Fprintf(a.out, "Total:      %d\n", s.TotalRegistrations)
			fmt.Fprintf(a.out, "Confirmed:  %d\n", s.ConfirmedRegistrations)
			fmt.Fprintf(a.out, "Pending:    %d\n", s.PendingRegistrations)
			fmt.Fprintf(a.out, "Waitlist:   %d\n", s.WaitlistRegistrations)
			fmt.Fprintf(a.out, "Cancelled:  %d\n", s.CancelledRegistrations)
			if s.AttendanceRate != nil {
				fmt.Fprintf(a.out, "Attendance: %.0f%%\n", *s.AttendanceRate)
			}
			return nil
		}),
	}

	cmd.AddCommand(register, my, cancel, list, update, stats)
	return cmd
}

func newAttendanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Record and review event attendance",
	}

	var (
		absent   bool
		notes    string
		checkIn  string
		checkOut string
	)
	record := &cobra.Command{
		Use:   "record <registration-id>",
		Short: "Record attendance for a registration",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			regID, err := parseID(args[0], "registration")
			if err != nil {
				return err
			}
			in := domain.AttendanceCreate{RegistrationID: regID, WasPresent: !absent, Notes: optString(notes)}
			if checkIn != "" {
				t, err := parseTime(checkIn)
				if err != nil {
					return err
				}
				in.CheckInTime = &t
			}
			if checkOut != "" {
				t, err := parseTime(checkOut)
				if err != nil {
					return err
				}
				in.CheckOutTime = &t
			}
			rec, err := a.api.Registrations().RecordAttendance(ctx, in)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, rec)
			}
			fmt.Fprintf(a.out, "Recorded registration #%d as %s\n", rec.RegistrationID, presence(rec.WasPresent))
			return nil
		}),
	}
	rf := record.Flags()
	rf.BoolVar(&absent, "absent", false, "mark as absent")
	rf.StringVar(&notes, "notes", "", "notes")
	rf.StringVar(&checkIn, "check-in", "", "check-in time")
	rf.StringVar(&checkOut, "check-out", "", "check-out time")

	var limit, offset int
	list := &cobra.Command{
		Use:   "list <event-id>",
		Short: "List attendance for an event",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageEvents, func(ctx context.Context, _ guard.Result, args []string) error {
			eventID, err := parseID(args[0], "event")
			if err != nil {
				return err
			}
			recs, err := a.api.Registrations().Attendance(ctx, eventID, limit, offset)
			if err != nil {
				return err
			}
			if a.flags.jsonOut {
				return printJSON(a.out, recs)
			}
			t := newTable(a.out, "REGISTRATION", "ATTENDEE", "STATUS", "CHECK-IN", "CHECK-OUT")
			for _, r := range recs {
				t.row(strconv.FormatInt(r.RegistrationID, 10), fallback(deref(r.UserFullName), deref(r.UserEmail)),
					presence(r.WasPresent), formatTimePtr(r.CheckInTime), formatTimePtr(r.CheckOutTime))
			}
			return t.flush()
		}),
	}
	list.Flags().IntVar(&limit, "limit", 0, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	cmd.AddCommand(record, list)
	return cmd
}

func presence(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
