package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <account>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, _ := cmd.Flags().GetString("password")
		id, err := app.stack.Accounts.Register(cmd.Context(), args[0], pw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s with id %d\n", args[0], id)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <account>",
	Short: "Log in and print the session token; any previous session is revoked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, _ := cmd.Flags().GetString("password")
		token, err := app.stack.Accounts.Login(cmd.Context(), args[0], pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.stack.Accounts.Logout(cmd.Context(), token(cmd))
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the profile of the session owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := authenticate(cmd)
		if err != nil {
			return err
		}
		p, err := app.stack.Accounts.CurrentUser(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update profile fields, e.g. --set userName=Alice --set avatar=a.png",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := authenticate(cmd)
		if err != nil {
			return err
		}
		pairs, _ := cmd.Flags().GetStringArray("set")
		fields := make(map[string]any, len(pairs))
		for _, p := range pairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("--set %q: expected key=value", p)
			}
			fields[k] = v
		}
		return app.stack.Accounts.UpdateProfile(ctx, fields)
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the password of the session owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := authenticate(cmd)
		if err != nil {
			return err
		}
		oldPw, _ := cmd.Flags().GetString("old")
		newPw, _ := cmd.Flags().GetString("new")
		return app.stack.Accounts.ChangePassword(ctx, oldPw, newPw)
	},
}

func token(cmd *cobra.Command) string {
	if t, _ := cmd.Flags().GetString("token"); t != "" {
		return t
	}
	return os.Getenv("WARDEN_TOKEN")
}

func authenticate(cmd *cobra.Command) (context.Context, error) {
	ctx, _, err := app.stack.Accounts.Authenticate(cmd.Context(), token(cmd))
	return ctx, err
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().String("password", "", "account password")
		_ = c.MarkFlagRequired("password")
	}
	for _, c := range []*cobra.Command{logoutCmd, whoamiCmd, profileCmd, passwdCmd} {
		c.Flags().String("token", "", "session token (defaults to $WARDEN_TOKEN)")
	}
	profileCmd.Flags().StringArray("set", nil, "field=value to update, repeatable")
	passwdCmd.Flags().String("old", "", "current password")
	passwdCmd.Flags().String("new", "", "new password")
	_ = passwdCmd.MarkFlagRequired("old")
	_ = passwdCmd.MarkFlagRequired("new")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, profileCmd, passwdCmd)
}
