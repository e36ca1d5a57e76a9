package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

const jobPollInterval = 500 * time.Millisecond

var (
	serverURL   string
	noAutoStart bool
	cliConfig   = viper.New()
	rootCmd     = &cobra.Command{
		Use:           "course-extract",
		Short:         "course-extract CLI - fetch HLS course videos",
		Long:          `A command-line interface for parsing and downloading Xiaoe-Tech and plain HLS course videos.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	pf.BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")
	pf.String("cookie", "", "Xiaoe-Tech session cookie (or COURSEEXTRACT_COOKIE)")
	pf.String("app-id", "", "Xiaoe-Tech shop app id (or COURSEEXTRACT_APP_ID)")
	pf.String("host", "", "Xiaoe-Tech api host (or COURSEEXTRACT_HOST)")
	bindCredentials(cliConfig, pf.Lookup("cookie"), pf.Lookup("app-id"), pf.Lookup("host"))

	downloadCmd.Flags().Bool("sync", false, "Run the job inside the request instead of queueing it")
	downloadCmd.Flags().Bool("no-wait", false, "Queue the job and return immediately")
	downloadCmd.Flags().StringP("output", "o", "", "Copy the finished artifact to this path")
	listCmd.Flags().StringP("phase", "p", "", "Filter by phase")
	listCmd.Flags().String("platform", "", "Filter by platform")
	listCmd.Flags().String("error-kind", "", "Filter by error kind")
	logsCmd.Flags().IntP("limit", "n", 50, "Number of entries")

	rootCmd.AddCommand(parseCmd, downloadCmd, authCmd, listCmd, getCmd, cancelCmd, deleteCmd, statsCmd, logsCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := newLauncher(serverURL, os.Stdout).ensure(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func client() *apiClient {
	ensureServer()
	return newAPIClient(serverURL)
}

var parseCmd = &cobra.Command{
	Use:   "parse [url]",
	Short: "Inspect a course link without downloading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().action(app.ActionRequest{
			Action:      app.ActionParseVideoURL,
			URL:         args[0],
			Credentials: credentials(cliConfig),
		})
		if err != nil {
			return err
		}

		src := resp.Source
		fmt.Printf("Source:\n")
		fmt.Printf("  Kind:      %s\n", src.LinkKind)
		fmt.Printf("  Platform:  %s\n", src.Platform)
		if src.Title != "" {
			fmt.Printf("  Title:     %s\n", src.Title)
		}
		fmt.Printf("  Manifest:  %s\n", src.ManifestURL)
		fmt.Printf("  Segments:  %d\n", src.SegmentCount)
		fmt.Printf("  Encrypted: %t\n", src.Encrypted)
		if src.Degraded {
			fmt.Printf("  Degraded:  true\n")
		}
		if a := src.Access; a != nil {
			fmt.Printf("  Access:    permission=%t free=%t public=%t password=%t stop_sell=%t\n",
				a.HasPermission, a.IsFree, a.IsPublic, a.HavePassword, a.IsStopSell)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Download a course video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sync, _ := cmd.Flags().GetBool("sync")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		output, _ := cmd.Flags().GetString("output")

		c := client()
		resp, err := c.action(app.ActionRequest{
			Action:      app.ActionDownloadVideo,
			URL:         args[0],
			Credentials: credentials(cliConfig),
			Async:       !sync,
		})
		if err != nil {
			return err
		}

		if resp.Job == nil {
			return fmt.Errorf("server did not return a job")
		}
		if !sync && noWait {
			fmt.Printf("Job queued: %s\n", resp.Job.ID)
			return nil
		}

		job := resp.Job
		if !sync {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			job, err = waitForJob(ctx, c, job.ID, os.Stderr)
			if err != nil {
				return err
			}
		} else if resp.Result != nil {
			job.ApplyResult(resp.Result)
		}

		printJob(os.Stdout, job)
		if job.Phase == domain.PhaseFailed {
			return fmt.Errorf("download failed: %s", job.ErrorKind)
		}

		if output != "" {
			n, err := c.saveArtifact(job.ID, output)
			if err != nil {
				return fmt.Errorf("failed to save artifact: %w", err)
			}
			fmt.Printf("Saved %d bytes to %s\n", n, output)
		}
		return nil
	},
}

// waitForJob polls a job until it ends, rendering segment progress.
// Interrupting cancels the job on the server.
func waitForJob(ctx context.Context, c *apiClient, id string, w io.Writer) (*domain.Job, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(string(domain.PhasePending)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	total := -1
	for {
		job, err := c.getJob(id)
		if err != nil {
			return nil, err
		}

		bar.Describe(string(job.Phase))
		if job.SegmentsTotal > 0 && job.SegmentsTotal != total {
			total = job.SegmentsTotal
			bar.ChangeMax(total)
		}
		_ = bar.Set(job.SegmentsOK + job.SegmentsFailed)

		if job.IsTerminal() {
			_ = bar.Finish()
			return job, nil
		}

		select {
		case <-ctx.Done():
			_ = bar.Finish()
			if err := c.cancelJob(id); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to cancel job: %v\n", err)
			}
			return nil, fmt.Errorf("interrupted, job %s cancelled", id)
		case <-ticker.C:
		}
	}
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check Xiaoe-Tech credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().action(app.ActionRequest{
			Action:      app.ActionTestXiaoeAuth,
			Credentials: credentials(cliConfig),
		})
		if err != nil {
			return err
		}

		auth := resp.Auth
		if !auth.Authenticated {
			msg := "unknown error"
			if auth.Error != nil {
				msg = fmt.Sprintf("%s: %s", auth.Error.Kind, auth.Error.Message)
			}
			return fmt.Errorf("not authenticated (%s)", msg)
		}

		fmt.Println("Authenticated")
		if auth.Profile != nil {
			fmt.Printf("  Nickname: %s\n", auth.Profile.Nickname)
			if auth.Profile.Phone != "" {
				fmt.Printf("  Phone:    %s\n", auth.Profile.Phone)
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, _ := cmd.Flags().GetString("phase")
		platform, _ := cmd.Flags().GetString("platform")
		errorKind, _ := cmd.Flags().GetString("error-kind")

		jobs, err := client().listJobs(map[string]string{
			"phase":      strings.ToUpper(phase),
			"platform":   platform,
			"error_kind": errorKind,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tPHASE\tSEGMENTS\tRATIO\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%.2f\t%s\n",
				truncate(j.ID, 8),
				truncate(j.URL, 40),
				j.Phase,
				j.SegmentsOK, j.SegmentsTotal,
				j.CompletionRatio,
				j.CreatedAt.Format(time.DateTime))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get job details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := client().getJob(args[0])
		if err != nil {
			return err
		}
		printJob(os.Stdout, job)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().cancelJob(args[0]); err != nil {
			return err
		}
		fmt.Println("Job cancelled")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a finished job and its artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().deleteJob(args[0]); err != nil {
			return err
		}
		fmt.Println("Job deleted")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := client().stats()
		if err != nil {
			return err
		}

		fmt.Println("Job Statistics:")
		fmt.Printf("  Total:     %d\n", stats.Total)
		fmt.Printf("  Pending:   %d\n", stats.Pending)
		fmt.Printf("  Running:   %d\n", stats.Running)
		fmt.Printf("  Succeeded: %d\n", stats.Succeeded)
		fmt.Printf("  Partial:   %d\n", stats.Partial)
		fmt.Printf("  Failed:    %d\n", stats.Failed)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "Show today's entries of a log category (job, queue, error, access)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := "job"
		if len(args) == 1 {
			category = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := client().logs(category, limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%v %-5v %v\n", e["timestamp"], e["level"], e["message"])
		}
		return nil
	},
}

func printJob(w io.Writer, job *domain.Job) {
	fmt.Fprintf(w, "Job Details:\n")
	fmt.Fprintf(w, "  ID:       %s\n", job.ID)
	fmt.Fprintf(w, "  URL:      %s\n", job.URL)
	fmt.Fprintf(w, "  Platform: %s\n", job.Platform)
	fmt.Fprintf(w, "  Phase:    %s\n", job.Phase)
	fmt.Fprintf(w, "  Segments: %d/%d (%.0f%%)\n", job.SegmentsOK, job.SegmentsTotal, job.CompletionRatio*100)
	if job.Degraded {
		fmt.Fprintf(w, "  Degraded: true\n")
	}
	if job.ErrorKind != "" {
		fmt.Fprintf(w, "  Error:    %s: %s\n", job.ErrorKind, job.ErrorMessage)
	}
	if job.ArtifactPath != "" {
		fmt.Fprintf(w, "  File:     %s (%d bytes)\n", job.ArtifactPath, job.ArtifactBytes)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
