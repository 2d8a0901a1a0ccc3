package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
)

var (
	manageGroups      = guard.Requirement{AnyOf: []rbac.Permission{rbac.PermManageUsers, rbac.PermManageEvents}}
	manageUsers       = guard.Requirement{Permission: rbac.PermManageUsers}
	manageRoles       = guard.Requirement{Permission: rbac.PermManageRoles}
	managePermissions = guard.Requirement{Permission: rbac.PermManagePermissions}
)

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, p := range splitList(s) {
		v, err := parseID(p, "user")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administration: groups, users, roles and permissions",
	}
	cmd.AddCommand(
		newAdminGroupsCmd(a),
		newAdminUsersCmd(a),
		newAdminRolesCmd(a),
		newAdminPermissionsCmd(a),
	)
	return cmd
}

func newAdminGroupsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "groups", Short: "Manage admin and instructor groups"}

	var managedOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: a.route(manageGroups, func(ctx context.Context, _ guard.Result, _ []string) error {
			var (
				gs  []domain.ChatGroup
				err error
			)
			if managedOnly {
				gs, err = a.api.AdminChat().Managed(ctx)
			} else {
				gs, err = a.api.AdminChat().All(ctx)
			}
			if err != nil {
				return err
			}
			return a.printGroups(gs)
		}),
	}
	list.Flags().BoolVar(&managedOnly, "managed", false, "only groups you manage")

	var (
		description string
		private     bool
		groupType   string
		members     string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a managed group",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageGroups, func(ctx context.Context, _ guard.Result, args []string) error {
			ids, err := parseIDs(members)
			if err != nil {
				return err
			}
			g, err := a.api.AdminChat().Create(ctx, domain.ManagedGroupCreate{
				Name:        args[0],
				Description: optString(description),
				IsPrivate:   private,
				GroupType:   domain.GroupType(groupType),
				MemberIDs:   ids,
			})
			if err != nil {
				return err
			}
			return a.printGroup(g)
		}),
	}
	cf := create.Flags()
	cf.StringVar(&description, "description", "", "description")
	cf.BoolVar(&private, "private", true, "hide from search")
	cf.StringVar(&groupType, "type", string(domain.GroupAdminManaged), "admin_managed or instructor_managed")
	cf.StringVar(&members, "members", "", "comma-separated user ids")

	var name, newDescription string
	var newPrivate bool
	update := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Change a group",
		Args:  cobra.ExactArgs(1),
	}
	update.RunE = a.route(manageGroups, func(ctx context.Context, _ guard.Result, args []string) error {
		groupID, err := parseID(args[0], "group")
		if err != nil {
			return err
		}
		var in domain.ChatGroupUpdate
		changed := update.Flags().Changed
		if changed("name") {
			in.Name = &name
		}
		if changed("description") {
			in.Description = &newDescription
		}
		if changed("private") {
			in.IsPrivate = &newPrivate
		}
		g, err := a.api.AdminChat().Update(ctx, groupID, in)
		if err != nil {
			return err
		}
		return a.printGroup(g)
	})
	uf := update.Flags()
	uf.StringVar(&name, "name", "", "new name")
	uf.StringVar(&newDescription, "description", "", "new description")
	uf.BoolVar(&newPrivate, "private", false, "hide from search")

	del := &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageGroups, func(ctx context.Context, _ guard.Result, args []string) error {
			groupID, err := parseID(args[0], "group")
			if err != nil {
				return err
			}
			if err := a.api.AdminChat().Delete(ctx, groupID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted group #%d\n", groupID)
			return nil
		}),
	}

	member := func(use, short, verb string, fn func(ctx context.Context, groupID, userID int64) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <group-id> <user-id>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: a.route(manageGroups, func(ctx context.Context, _ guard.Result, args []string) error {
				groupID, err := parseID(args[0], "group")
				if err != nil {
					return err
				}
				userID, err := parseID(args[1], "user")
				if err != nil {
					return err
				}
				if err := fn(ctx, groupID, userID); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s user #%d in group #%d\n", verb, userID, groupID)
				return nil
			}),
		}
	}

	cmd.AddCommand(list, create, update, del,
		member("add-member", "Add a user to a group", "Added", func(ctx context.Context, g, u int64) error {
			return a.api.AdminChat().AssignMember(ctx, g, u)
		}),
		member("remove-member", "Remove a user from a group", "Removed", func(ctx context.Context, g, u int64) error {
			return a.api.AdminChat().RemoveMember(ctx, g, u)
		}),
	)
	return cmd
}

func (a *app) printUsers(users []domain.User) error {
	if a.flags.jsonOut {
		return printJSON(a.out, users)
	}
	t := newTable(a.out, "ID", "EMAIL", "NAME", "ACTIVE", "ROLES")
	for _, u := range users {
		t.row(strconv.FormatInt(u.ID, 10), u.Email, deref(u.FullName), yesNo(u.IsActive), strings.Join(u.Roles, ","))
	}
	return t.flush()
}

func newAdminUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage users"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: a.route(manageUsers, func(ctx context.Context, _ guard.Result, _ []string) error {
			users, err := a.api.Users().List(ctx)
			if err != nil {
				return err
			}
			return a.printUsers(users)
		}),
	}

	get := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageUsers, func(ctx context.Context, _ guard.Result, args []string) error {
			userID, err := parseID(args[0], "user")
			if err != nil {
				return err
			}
			u, err := a.api.Users().Get(ctx, userID)
			if err != nil {
				return err
			}
			return a.printUsers([]domain.User{*u})
		}),
	}

	assign := &cobra.Command{
		Use:   "assign-roles <user-id> <role,role...>",
		Short: "Replace a user's roles",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.route(manageUsers, func(ctx context.Context, _ guard.Result, args []string) error {
			userID, err := parseID(args[0], "user")
			if err != nil {
				return err
			}
			var roles []string
			if len(args) == 2 {
				roles = splitList(args[1])
			}
			u, err := a.api.Users().AssignRoles(ctx, userID, roles)
			if err != nil {
				return err
			}
			return a.printUsers([]domain.User{*u})
		}),
	}

	var (
		fullName string
		active   bool
	)
	update := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Change a user's name or active flag",
		Args:  cobra.ExactArgs(1),
	}
	update.RunE = a.route(manageUsers, func(ctx context.Context, _ guard.Result, args []string) error {
		userID, err := parseID(args[0], "user")
		if err != nil {
			return err
		}
		var in domain.UserUpdate
		if update.Flags().Changed("name") {
			in.FullName = &fullName
		}
		if update.Flags().Changed("active") {
			in.IsActive = &active
		}
		u, err := a.api.Users().Update(ctx, userID, in)
		if err != nil {
			return err
		}
		return a.printUsers([]domain.User{*u})
	})
	update.Flags().StringVar(&fullName, "name", "", "full name")
	update.Flags().BoolVar(&active, "active", true, "whether the account may sign in")

	cmd.AddCommand(list, get, assign, update)
	return cmd
}

func newAdminRolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Manage roles"}

	show := func(roles []domain.RoleRecord) error {
		if a.flags.jsonOut {
			return printJSON(a.out, roles)
		}
		t := newTable(a.out, "ID", "NAME", "DESCRIPTION", "PERMISSIONS")
		for _, r := range roles {
			t.row(strconv.FormatInt(r.ID, 10), r.Name, truncate(deref(r.Description), 40), strings.Join(r.Permissions, ","))
		}
		return t.flush()
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List roles",
		Args:  cobra.NoArgs,
		RunE: a.route(manageRoles, func(ctx context.Context, _ guard.Result, _ []string) error {
			roles, err := a.api.Roles().List(ctx)
			if err != nil {
				return err
			}
			return show(roles)
		}),
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageRoles, func(ctx context.Context, _ guard.Result, args []string) error {
			r, err := a.api.Roles().Create(ctx, domain.RoleInput{Name: args[0], Description: optString(description)})
			if err != nil {
				return err
			}
			return show([]domain.RoleRecord{*r})
		}),
	}
	create.Flags().StringVar(&description, "description", "", "description")

	setPerms := &cobra.Command{
		Use:   "set-permissions <role-id> <perm,perm...>",
		Short: "Replace a role's permissions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.route(manageRoles, func(ctx context.Context, _ guard.Result, args []string) error {
			roleID, err := parseID(args[0], "role")
			if err != nil {
				return err
			}
			var perms []string
			if len(args) == 2 {
				perms = splitList(args[1])
			}
			r, err := a.api.Roles().SetPermissions(ctx, roleID, perms)
			if err != nil {
				return err
			}
			return show([]domain.RoleRecord{*r})
		}),
	}

	del := &cobra.Command{
		Use:   "delete <role-id>",
		Short: "Delete a role",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(manageRoles, func(ctx context.Context, _ guard.Result, args []string) error {
			roleID, err := parseID(args[0], "role")
			if err != nil {
				return err
			}
			if err := a.api.Roles().Delete(ctx, roleID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted role #%d\n", roleID)
			return nil
		}),
	}

	cmd.AddCommand(list, create, setPerms, del)
	return cmd
}

func newAdminPermissionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Manage permissions"}

	show := func(perms []domain.PermissionRecord) error {
		if a.flags.jsonOut {
			return printJSON(a.out, perms)
		}
		t := newTable(a.out, "ID", "NAME", "DESCRIPTION")
		for _, p := range perms {
			t.row(strconv.FormatInt(p.ID, 10), p.Name, deref(p.Description))
		}
		return t.flush()
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List permissions",
		Args:  cobra.NoArgs,
		RunE: a.route(managePermissions, func(ctx context.Context, _ guard.Result, _ []string) error {
			perms, err := a.api.Permissions().List(ctx)
			if err != nil {
				return err
			}
			return show(perms)
		}),
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a permission",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(managePermissions, func(ctx context.Context, _ guard.Result, args []string) error {
			p, err := a.api.Permissions().Create(ctx, domain.PermissionInput{Name: args[0], Description: optString(description)})
			if err != nil {
				return err
			}
			return show([]domain.PermissionRecord{*p})
		}),
	}
	create.Flags().StringVar(&description, "description", "", "description")

	del := &cobra.Command{
		Use:   "delete <permission-id>",
		Short: "Delete a permission",
		Args:  cobra.ExactArgs(1),
		RunE: a.route(managePermissions, func(ctx context.Context, _ guard.Result, args []string) error {
			permID, err := parseID(args[0], "permission")
			if err != nil {
				return err
			}
			if err := a.api.Permissions().Delete(ctx, permID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted permission #%d\n", permID)
			return nil
		}),
	}

	cmd.AddCommand(list, create, del)
	return cmd
}
