package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdy-git/ChatLab/internal/analytics"
	"github.com/gdy-git/ChatLab/internal/config"
	"github.com/gdy-git/ChatLab/internal/importer"
	"github.com/gdy-git/ChatLab/internal/query"
	"github.com/gdy-git/ChatLab/internal/search"
	"github.com/gdy-git/ChatLab/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool

	sessionID string
	fromTS    int64
	toTS      int64
	limit     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatlab",
		Short: "Chat transcript store and analyzer",
		Long: `ChatLab imports exported chat transcripts into per-session
SQLite databases and answers activity analytics, keyword search,
and message navigation queries against them.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("chatlab %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newRecentCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newContextCmd())
	rootCmd.AddCommand(newConversationCmd())
	rootCmd.AddCommand(newHistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func sessionManager() (*store.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	dir, err := cfg.GetSessionsDir()
	if err != nil {
		return nil, nil, err
	}
	return store.NewManager(dir), cfg, nil
}

func addSessionFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	cmd.MarkFlagRequired("session")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&fromTS, "from", 0, "Inclusive lower timestamp bound (0 = unbounded)")
	cmd.Flags().Int64Var(&toTS, "to", 0, "Inclusive upper timestamp bound (0 = unbounded)")
}

func timeFilter() query.TimeFilter {
	var f query.TimeFilter
	if fromTS > 0 {
		f.Start = &fromTS
	}
	if toTS > 0 {
		f.End = &toTS
	}
	return f
}

// openSession opens the session named by --session and hands it to fn.
func openSession(fn func(s *store.Store, cfg *config.Config) error) error {
	mgr, cfg, err := sessionManager()
	if err != nil {
		return err
	}
	s, err := mgr.Open(sessionID)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, cfg)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <parse-result.json>",
		Short: "Import a normalized transcript into a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read parse result: %w", err)
			}
			var pr importer.ParseResult
			if err := json.Unmarshal(data, &pr); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			mgr, _, err := sessionManager()
			if err != nil {
				return err
			}
			res, err := importer.Import(context.Background(), mgr, pr)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(res)
			} else {
				fmt.Printf("✓ Imported session %s: %d messages, %d members (%d skipped) in %s\n",
					res.SessionID, res.MessagesImported, res.MembersCreated,
					res.MessagesSkipped, res.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage imported sessions",
	}

	var watch bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List imported sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := sessionManager()
			if err != nil {
				return err
			}

			printList := func() error {
				summaries, err := mgr.ListSessions(cfg.SystemSender)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(summaries)
					return nil
				}
				if len(summaries) == 0 {
					fmt.Println("No sessions imported yet.")
					return nil
				}
				for _, s := range summaries {
					fmt.Printf("%s  %-20s %-10s %6d msgs  %4d members  imported %s\n",
						s.ID, s.Name, s.Platform, s.MessageCount, s.MemberCount,
						time.Unix(s.ImportedAt, 0).Format("2006-01-02 15:04"))
				}
				return nil
			}

			if err := printList(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(os.Stderr, "Watching for session changes (Ctrl+C to stop)...")
			return mgr.Watch(ctx, 500*time.Millisecond, func() {
				if err := printList(); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			})
		},
	}
	listCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep watching the sessions directory")
	sessionsCmd.AddCommand(listCmd)

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its side files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := sessionManager()
			if err != nil {
				return err
			}
			removed, err := mgr.Delete(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]bool{"removed": removed})
			} else if removed {
				fmt.Printf("✓ Deleted session %s\n", args[0])
			} else {
				fmt.Printf("Session %s was already gone\n", args[0])
			}
			return nil
		},
	})

	return sessionsCmd
}

func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Activity analytics for one session",
	}

	run := func(fn func(e *analytics.Engine, cfg *config.Config) (any, func(), error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := analytics.NewEngine(s.DB, cfg.SystemSender)
				result, plain, err := fn(e, cfg)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(result)
				} else {
					plain()
				}
				return nil
			})
		}
	}

	membersCmd := &cobra.Command{
		Use:   "members",
		Short: "Message count and share per member",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			rows, err := e.MemberActivity(timeFilter())
			return rows, func() {
				for _, r := range rows {
					fmt.Printf("%6d  %-24s %6d  %6.2f%%\n", r.MemberID, r.Name, r.Count, r.Percent)
				}
			}, err
		}),
	}

	hoursCmd := &cobra.Command{
		Use:   "hours",
		Short: "Message count per local hour of day",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			rows, err := e.HourlyActivity(timeFilter())
			return rows, func() {
				for _, r := range rows {
					fmt.Printf("%02d:00  %6d\n", r.Hour, r.Count)
				}
			}, err
		}),
	}

	daysCmd := &cobra.Command{
		Use:   "days",
		Short: "Message count per local calendar date",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			rows, err := e.DailyActivity(timeFilter())
			return rows, func() {
				for _, r := range rows {
					fmt.Printf("%s  %6d\n", r.Date, r.Count)
				}
			}, err
		}),
	}

	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "Message count per type code",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			rows, err := e.TypeDistribution(timeFilter())
			return rows, func() {
				for _, r := range rows {
					fmt.Printf("type %-4d %6d\n", r.Type, r.Count)
				}
			}, err
		}),
	}

	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "Absolute timestamp bounds of the session",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			tr, err := e.TimeRange()
			return tr, func() {
				if tr == nil {
					fmt.Println("No messages.")
					return
				}
				fmt.Printf("%s — %s\n",
					time.Unix(tr.Start, 0).Format("2006-01-02 15:04:05"),
					time.Unix(tr.End, 0).Format("2006-01-02 15:04:05"))
			}, err
		}),
	}

	yearsCmd := &cobra.Command{
		Use:   "years",
		Short: "Years with activity, newest first",
		RunE: run(func(e *analytics.Engine, cfg *config.Config) (any, func(), error) {
			years, err := e.AvailableYears()
			return years, func() {
				for _, y := range years {
					fmt.Println(y)
				}
			}, err
		}),
	}

	for _, c := range []*cobra.Command{membersCmd, hoursCmd, daysCmd, typesCmd, rangeCmd, yearsCmd} {
		addSessionFlag(c)
		addFilterFlags(c)
		statsCmd.AddCommand(c)
	}
	return statsCmd
}

func printMessages(msgs []store.Message) {
	for _, m := range msgs {
		fmt.Printf("[%d] %s  %s: %s\n",
			m.ID, time.Unix(m.TS, 0).Format("2006-01-02 15:04:05"), m.SenderName, m.Content)
	}
}

func newRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Most recent text messages, in chronological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := search.NewEngine(s.DB, cfg.SystemSender)
				page, err := e.RecentMessages(timeFilter(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(page)
				} else {
					printMessages(page.Messages)
					fmt.Printf("(%d of %d)\n", len(page.Messages), page.Total)
				}
				return nil
			})
		},
	}
	addSessionFlag(cmd)
	addFilterFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages to return")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var offset int
	var senderID int64
	cmd := &cobra.Command{
		Use:   "search <keyword>...",
		Short: "Keyword search over message content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := search.NewEngine(s.DB, cfg.SystemSender)
				var sender *int64
				if cmd.Flags().Changed("sender") {
					sender = &senderID
				}
				page, err := e.SearchMessages(args, timeFilter(), limit, offset, sender)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(page)
				} else {
					printMessages(page.Messages)
					fmt.Printf("(%d of %d matches)\n", len(page.Messages), page.Total)
				}
				return nil
			})
		},
	}
	addSessionFlag(cmd)
	addFilterFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Pagination offset")
	cmd.Flags().Int64Var(&senderID, "sender", 0, "Restrict to one member id")
	return cmd
}

func newContextCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "context <message-id>...",
		Short: "Messages surrounding one or more message ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid message id %q: %w", a, err)
				}
				ids = append(ids, id)
			}
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := search.NewEngine(s.DB, cfg.SystemSender)
				msgs, err := e.MessageContext(ids, size)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(msgs)
				} else {
					printMessages(msgs)
				}
				return nil
			})
		},
	}
	addSessionFlag(cmd)
	cmd.Flags().IntVarP(&size, "size", "k", 5, "Messages on each side of every target")
	return cmd
}

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation <member-a> <member-b>",
		Short: "Messages exchanged between two members",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid member id %q: %w", args[0], err)
			}
			b, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid member id %q: %w", args[1], err)
			}
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := search.NewEngine(s.DB, cfg.SystemSender)
				conv, err := e.ConversationBetween(a, b, timeFilter(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(conv)
				} else {
					fmt.Printf("%s ↔ %s (%d messages)\n", conv.NameA, conv.NameB, conv.Total)
					printMessages(conv.Messages)
				}
				return nil
			})
		},
	}
	addSessionFlag(cmd)
	addFilterFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages to return")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <member-id>",
		Short: "Nickname history of one member, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid member id %q: %w", args[0], err)
			}
			return openSession(func(s *store.Store, cfg *config.Config) error {
				e := analytics.NewEngine(s.DB, cfg.SystemSender)
				intervals, err := e.MemberNameHistory(memberID)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(intervals)
					return nil
				}
				for _, iv := range intervals {
					end := "now"
					if iv.EndTS != nil {
						end = time.Unix(*iv.EndTS, 0).Format("2006-01-02 15:04")
					}
					fmt.Printf("%-24s %s — %s\n", iv.Name,
						time.Unix(iv.StartTS, 0).Format("2006-01-02 15:04"), end)
				}
				return nil
			})
		},
	}
	addSessionFlag(cmd)
	return cmd
}
