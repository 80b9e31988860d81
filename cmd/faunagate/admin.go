package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/domain/auth"
)

var (
	adminUsername string
	adminEmail    string
	adminPassword string
	adminGroup    string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an active user",
	Long: `Create an active user without email verification.

With --group the user joins a new group holding every action on every
declared model.

Examples:
  faunagate create-admin --username admin --email admin@example.com --password 'S3cret!pass'
  faunagate create-admin --username ops --email ops@example.com --password 'S3cret!pass' --group staff`,
	RunE: runCreateAdmin,
}

func init() {
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminUsername, "username", "", "username (required)")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "email (required)")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password (required)")
	createAdminCmd.Flags().StringVar(&adminGroup, "group", "", "group slug to join")
	createAdminCmd.MarkFlagRequired("username")
	createAdminCmd.MarkFlagRequired("email")
	createAdminCmd.MarkFlagRequired("password")
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietOptions())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.InitHTTP(); err != nil {
		return err
	}

	ctx := context.Background()
	user, err := a.Auth.CreateActiveUser(ctx, auth.SignupRequest{
		Username: adminUsername,
		Email:    adminEmail,
		Password: adminPassword,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("Created user %s (%s)\n", adminUsername, user.RefID())

	if adminGroup == "" {
		return nil
	}

	group, err := a.Auth.CreateGroup(ctx, adminGroup, adminGroup)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	perms := make([]resource.PermissionGroup, len(a.Models))
	for i, m := range a.Models {
		perms[i] = resource.PermissionGroup{Model: m}
	}
	if _, err := a.Auth.AddToGroup(ctx, user.RefID(), group.RefID(), perms...); err != nil {
		return fmt.Errorf("add to group: %w", err)
	}
	fmt.Printf("Added %s to group %s with %d model permission set(s)\n", adminUsername, adminGroup, len(perms))
	return nil
}
