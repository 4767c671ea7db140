package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
	"github.com/arbiterlabs/arbiter/internal/defense"
	"github.com/arbiterlabs/arbiter/internal/protocol"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage consensus sessions"}
	cmd.AddCommand(sessionStartCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionResultCmd())
	cmd.AddCommand(sessionEvidenceCmd())
	return cmd
}

func sessionStartCmd() *cobra.Command {
	var participants string
	var commitMS, revealMS int64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a commitment-reveal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := splitNonEmpty(participants)
			if len(ids) < 2 {
				return fmt.Errorf("--participants needs at least 2 comma-separated agent ids")
			}
			body := map[string]any{"participants": ids}
			if commitMS > 0 {
				body["commit_timeout_ms"] = commitMS
			}
			if revealMS > 0 {
				body["reveal_timeout_ms"] = revealMS
			}
			var status protocol.Status
			if err := postJSON("/api/sessions", body, &status); err != nil {
				return err
			}
			return printStatuses(status)
		},
	}
	cmd.Flags().StringVar(&participants, "participants", "", "comma-separated agent ids")
	cmd.Flags().Int64Var(&commitMS, "commit-timeout-ms", 0, "commit phase timeout override")
	cmd.Flags().Int64Var(&revealMS, "reveal-timeout-ms", 0, "reveal phase timeout override")
	_ = cmd.MarkFlagRequired("participants")
	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []protocol.Status
			if err := getJSON("/api/sessions", &statuses); err != nil {
				return err
			}
			return printStatuses(statuses...)
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status protocol.Status
			if err := getJSON("/api/sessions/"+args[0], &status); err != nil {
				return err
			}
			return printStatuses(status)
		},
	}
}

func sessionResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <session-id>",
		Short: "Show the published consensus result",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result aggregate.Result
			if err := getJSON("/api/sessions/"+args[0]+"/result", &result); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(result)
			}
			t := newTable()
			t.AppendHeader(table.Row{"Session", "Consensus", "Similarity", "Pass Rate", "Valid", "Outliers"})
			t.AppendRow(table.Row{
				result.SessionID,
				fmt.Sprintf("%.4f", result.ConsensusValue),
				fmt.Sprintf("%.3f", result.ConsensusSimilarity),
				fmt.Sprintf("%.0f%%", result.PassRate*100),
				strings.Join(result.ValidAgents, ","),
				strings.Join(result.Outliers, ","),
			})
			t.Render()
			return nil
		},
		Args: cobra.ExactArgs(1),
	}
}

func sessionEvidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evidence <session-id>",
		Short: "List misbehavior evidence for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var evidence []defense.Evidence
			if err := getJSON("/api/sessions/"+args[0]+"/evidence", &evidence); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(evidence)
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Kind", "Severity", "Agents", "Detected"})
			for _, ev := range evidence {
				t.AppendRow(table.Row{
					ev.ID,
					string(ev.Kind),
					fmt.Sprintf("%.2f", ev.Severity),
					strings.Join(ev.Agents(), ","),
					time.UnixMilli(ev.DetectedAt).Format(time.RFC3339),
				})
			}
			t.Render()
			return nil
		},
	}
}

func printStatuses(statuses ...protocol.Status) error {
	if viper.GetBool("json") {
		if len(statuses) == 1 {
			return printJSON(statuses[0])
		}
		return printJSON(statuses)
	}
	t := newTable()
	t.AppendHeader(table.Row{"Session", "Phase", "Participants", "Commits", "Reveals", "Failure"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.SessionID, s.Phase, s.Participants, s.Commitments, s.Reveals, s.FailureReason})
	}
	t.Render()
	return nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
