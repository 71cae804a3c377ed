package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", api.DefaultHistoryLimit, "number of messages to fetch")

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(newChatCmd)
	rootCmd.AddCommand(readsCmd)
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

func chatLabel(c model.Chat) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.IsGroup {
		return fmt.Sprintf("Group #%d", c.ID)
	}
	return fmt.Sprintf("Chat #%d", c.ID)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List the user's chats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		chats, err := c.Chats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(chats)
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, ch := range chats {
			kind := "direct"
			if ch.IsGroup {
				kind = "group"
			}
			fmt.Printf("%-8d %-24s %-7s %v\n", ch.ID, chatLabel(ch), kind, ch.Participants)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chat id>",
	Short: "Print the latest messages of a chat, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0], "chat id")
		if err != nil {
			return err
		}
		c, _, cancel, err := newClient(historyLimit)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		msgs, err := c.History(ctx, chatID)
		if err != nil {
			return err
		}
		slices.Reverse(msgs)
		if jsonOutput {
			return outputJSON(msgs)
		}
		for _, m := range msgs {
			body := m.Content
			if m.Deleted {
				body = "(deleted)"
			}
			fmt.Printf("[%s] #%d user %d: %s\n", m.CreatedAt.Local().Format(time.DateTime), m.ID, m.SenderID, body)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat id> <text...>",
	Short: "Send a message over the REST API",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0], "chat id")
		if err != nil {
			return err
		}
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return errors.New("empty message")
		}
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		msg, err := c.SendMessage(ctx, chatID, text)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(msg)
		}
		fmt.Printf("Sent message #%d to chat %d.\n", msg.ID, msg.ChatID)
		return nil
	},
}

var newChatCmd = &cobra.Command{
	Use:   "new-chat <user id>",
	Short: "Open a 1:1 chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		chat, err := c.CreateChat(ctx, userID)
		switch {
		case errors.Is(err, errs.ErrConflict):
			return fmt.Errorf("server refused a chat with user %d: %w", userID, err)
		case errors.Is(err, errs.ErrNotFound):
			return fmt.Errorf("no user with id %d", userID)
		case err != nil:
			return err
		}
		if jsonOutput {
			return outputJSON(chat)
		}
		fmt.Printf("Chat %d ready: %s\n", chat.ID, chatLabel(chat))
		return nil
	},
}

var readsCmd = &cobra.Command{
	Use:   "reads <message id>",
	Short: "Show who has read a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		c, _, cancel, err := newClient(0)
		if err != nil {
			return err
		}
		defer cancel()
		ctx, done := requestContext()
		defer done()

		reads, err := c.ReadStatus(ctx, messageID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(reads)
		}
		if len(reads) == 0 {
			fmt.Println("Not read yet.")
			return nil
		}
		for _, r := range reads {
			fmt.Printf("user %-8d %s\n", r.ReaderID, r.ReadAt.Local().Format(time.DateTime))
		}
		return nil
	},
}
