package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arbiterlabs/arbiter/internal/reputation"
)

func reputationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reputation", Short: "Inspect agent reputation"}
	cmd.AddCommand(reputationListCmd())
	cmd.AddCommand(reputationShowCmd())
	return cmd
}

func reputationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tracked agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var scores []reputation.Score
			if err := getJSON("/api/reputation", &scores); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(scores)
			}
			t := newTable()
			t.AppendHeader(table.Row{"Agent", "Credit", "Tier", "Weight", "Tasks", "Success", "Outliers", "Active"})
			for _, s := range scores {
				t.AppendRow(table.Row{
					s.AgentID,
					fmt.Sprintf("%.1f", s.Credit),
					string(s.Tier()),
					fmt.Sprintf("%.2f", s.VotingWeight()),
					s.TotalTasks,
					fmt.Sprintf("%.0f%%", s.SuccessRate()*100),
					s.OutlierCount,
					s.Active,
				})
			}
			t.Render()
			return nil
		},
	}
}

func reputationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show one agent's score and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s reputation.Score
			if err := getJSON("/api/reputation/"+args[0], &s); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			fmt.Printf("agent:   %s\ncredit:  %.1f (%s)\nweight:  %.2f\ntasks:   %d (%.0f%% success, %d outliers)\nactive:  %v\n",
				s.AgentID, s.Credit, s.Tier(), s.VotingWeight(),
				s.TotalTasks, s.SuccessRate()*100, s.OutlierCount, s.Active)
			if len(s.History) == 0 {
				return nil
			}
			t := newTable()
			t.AppendHeader(table.Row{"When", "Reason", "Delta", "Credit"})
			for _, u := range s.History {
				t.AppendRow(table.Row{
					time.UnixMilli(u.Timestamp).Format(time.RFC3339),
					u.Reason,
					fmt.Sprintf("%+.1f", u.Delta),
					fmt.Sprintf("%.1f", u.NewCredit),
				})
			}
			t.Render()
			return nil
		},
	}
}

func maliciousCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "malicious",
		Short: "List agents with recorded misbehavior",
		RunE: func(cmd *cobra.Command, args []string) error {
			var agents map[string][]string
			if err := getJSON("/api/malicious", &agents); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(agents)
			}
			t := newTable()
			t.AppendHeader(table.Row{"Agent", "Findings"})
			for agent, kinds := range agents {
				t.AppendRow(table.Row{agent, strings.Join(kinds, ",")})
			}
			t.Render()
			return nil
		},
	}
}
