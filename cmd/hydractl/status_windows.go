//go:build windows

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hydrahook/hydrahook/internal/ipc"
)

var targetPID int32

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a hooked process over its diagnostics pipe",
	Run: func(cmd *cobra.Command, args []string) {
		queryStatus()
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Dump a hooked process's recent engine log entries",
	Run: func(cmd *cobra.Command, args []string) {
		queryJournal()
	},
}

func init() {
	statusCmd.Flags().Int32Var(&targetPID, "pid", 0, "PID of the hooked process")
	statusCmd.MarkFlagRequired("pid")
	journalCmd.Flags().Int32Var(&targetPID, "pid", 0, "PID of the hooked process")
	journalCmd.MarkFlagRequired("pid")
}

func dialTarget() *ipc.Conn {
	conn, err := ipc.Dial(targetPID, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reach process %d: %v\n", targetPID, err)
		os.Exit(1)
	}
	return conn
}

func queryStatus() {
	conn := dialTarget()
	defer conn.Close()

	if err := conn.SendTyped("status", ipc.TypeStatusRequest, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	env, err := conn.Recv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No reply: %v\n", err)
		os.Exit(1)
	}

	var st ipc.Status
	if err := decode(env, &st); err != nil {
		fmt.Fprintf(os.Stderr, "Bad reply: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Process: %s (pid %d)\n", st.Process, st.PID)
	if len(st.Engines) == 0 {
		fmt.Println("No engines registered")
		return
	}
	for _, e := range st.Engines {
		state := "waiting for first hooked call"
		if e.Hooked {
			state = fmt.Sprintf("hooked %s object 0x%X", e.Version, e.HookedObject)
		}
		fmt.Printf("  module 0x%X: %s\n", e.HostModule, state)
	}
}

func queryJournal() {
	conn := dialTarget()
	defer conn.Close()

	if err := conn.SendTyped("journal", ipc.TypeJournalRequest, ipc.JournalRequest{Max: 200}); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	env, err := conn.Recv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No reply: %v\n", err)
		os.Exit(1)
	}

	var j ipc.Journal
	if err := decode(env, &j); err != nil {
		fmt.Fprintf(os.Stderr, "Bad reply: %v\n", err)
		os.Exit(1)
	}
	for _, e := range j.Entries {
		fmt.Printf("%s  %-5s  [%s]  %s\n",
			e.Timestamp.Format("15:04:05.000"), e.Level, e.Component, e.Message)
	}
}
