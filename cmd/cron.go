package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd(), cronEnableCmd(true), cronEnableCmd(false))
	return cmd
}

// openCronService opens the job store directly. Fine to run while the
// gateway is up; SQLite serializes access.
func openCronService() (*cron.Service, func()) {
	cfg := loadConfig()
	store, err := cron.OpenStore(cfg.CronStorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cron store: %v\n", err)
		os.Exit(1)
	}
	return cron.NewService(store, bus.New()), func() { store.Close() }
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			svc, done := openCronService()
			defer done()
			jobs, err := svc.List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs scheduled.")
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tMESSAGE")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					j.ID[:8], j.Name, j.Schedule, j.Enabled,
					j.NextRun.Format("2006-01-02 15:04"), truncate(j.Message, 40))
			}
			w.Flush()
		},
	}
}

func cronAddCmd() *cobra.Command {
	var deliverChannel, deliverChatID string
	cmd := &cobra.Command{
		Use:   "add <name> <schedule> <message>",
		Short: "Add a job (five-field cron schedule)",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			svc, done := openCronService()
			defer done()
			job, err := svc.Add(args[0], args[1], args[2], deliverChannel, deliverChatID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Added job %s (%s), next run %s\n", job.Name, job.ID[:8], job.NextRun.Format("2006-01-02 15:04"))
		},
	}
	cmd.Flags().StringVar(&deliverChannel, "deliver-channel", "", "channel to deliver the agent's reply to")
	cmd.Flags().StringVar(&deliverChatID, "deliver-chat", "", "chat id to deliver the agent's reply to")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, done := openCronService()
			defer done()
			ok, err := removeByPrefix(svc, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !ok {
				fmt.Fprintf(os.Stderr, "No job matching %q\n", args[0])
				os.Exit(1)
			}
			fmt.Println("Removed.")
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a job"
	if !enable {
		use, short = "disable <id>", "Disable a job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, done := openCronService()
			defer done()
			id, err := resolveJobID(svc, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if _, err := svc.SetEnabled(id, enable); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Done.")
		},
	}
}

// resolveJobID accepts a full id or a unique prefix.
func resolveJobID(svc *cron.Service, idOrPrefix string) (string, error) {
	jobs, err := svc.List()
	if err != nil {
		return "", err
	}
	var match string
	for _, j := range jobs {
		if j.ID == idOrPrefix {
			return j.ID, nil
		}
		if len(idOrPrefix) >= 4 && len(j.ID) >= len(idOrPrefix) && j.ID[:len(idOrPrefix)] == idOrPrefix {
			if match != "" {
				return "", fmt.Errorf("prefix %q is ambiguous", idOrPrefix)
			}
			match = j.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no job matching %q", idOrPrefix)
	}
	return match, nil
}

func removeByPrefix(svc *cron.Service, idOrPrefix string) (bool, error) {
	id, err := resolveJobID(svc, idOrPrefix)
	if err != nil {
		return false, err
	}
	return svc.Remove(id)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
