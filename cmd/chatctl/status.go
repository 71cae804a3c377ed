package main

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}

type sessionStatus struct {
	Session   string    `json:"session"`
	Dir       string    `json:"dir"`
	APIURL    string    `json:"api_url"`
	WSURL     string    `json:"ws_url"`
	SendVia   string    `json:"send_via"`
	HasToken  bool      `json:"has_token"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

func statusOf(name string) sessionStatus {
	_, tokenErr := session.Token(name)
	st := sessionStatus{
		Session:  name,
		Dir:      session.Dir(name),
		HasToken: tokenErr == nil,
	}
	if info, held := lock.Probe(session.LockPath(name)); held {
		st.Running = true
		st.PID = info.PID
		st.StartedAt = info.Started
	}
	return st
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session's configuration, token and engine process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := resolve()
		if err != nil {
			return err
		}
		st := statusOf(t.name)
		st.APIURL = t.profile.APIURL
		st.WSURL = t.profile.WSURL
		st.SendVia = t.profile.SendVia

		if jsonOutput {
			return outputJSON(st)
		}
		fmt.Printf("Session:  %s\n", st.Session)
		fmt.Printf("Dir:      %s\n", st.Dir)
		fmt.Printf("API:      %s\n", st.APIURL)
		fmt.Printf("Realtime: %s\n", st.WSURL)
		fmt.Printf("Send via: %s\n", st.SendVia)
		if st.HasToken {
			fmt.Println("Token:    present")
		} else {
			fmt.Println("Token:    (not set)")
		}
		if st.Running {
			fmt.Printf("Engine:   running (pid %d, since %s)\n", st.PID, st.StartedAt.Local().Format(time.DateTime))
		} else {
			fmt.Println("Engine:   stopped")
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		out := make([]sessionStatus, len(names))
		for i, name := range names {
			out[i] = statusOf(name)
		}
		if jsonOutput {
			return outputJSON(out)
		}
		if len(out) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range out {
			running := "stopped"
			if s.Running {
				running = fmt.Sprintf("running, pid %d", s.PID)
			}
			token := "token"
			if !s.HasToken {
				token = "no token"
			}
			fmt.Printf("%-20s %s (%s, %s)\n", s.Session, s.Dir, running, token)
		}
		return nil
	},
}
