package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	usersCmd.AddCommand(usersSearchCmd)
	usersCmd.AddCommand(usersMeCmd)
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up users",
}

var usersMeCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the token owner's profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		me, err := c.CurrentUser(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(me)
		}
		fmt.Printf("ID:       %d\n", me.ID)
		fmt.Printf("Username: %s\n", me.Username)
		fmt.Printf("Email:    %s\n", valueOrDefault(me.Email, "(not set)"))
		return nil
	},
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		users, err := c.SearchUsers(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%-8d %-20s %s\n", u.ID, u.Username, u.Email)
		}
		return nil
	},
}
