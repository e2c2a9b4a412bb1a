package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"closingbell/internal/app"
	"closingbell/internal/calendar"
	"closingbell/internal/config"
	"closingbell/internal/domain"
	"closingbell/internal/store"
	"closingbell/internal/util"
	"closingbell/pkg/closingbell"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: closingbell-cli <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  today                        Is today a trading day?\n")
		fmt.Fprintf(os.Stderr, "  next                         Next trading day after today\n")
		fmt.Fprintf(os.Stderr, "  week                         Trading days in the next 7 days\n")
		fmt.Fprintf(os.Stderr, "  open                         Is the market in session right now?\n")
		fmt.Fprintf(os.Stderr, "  history [n]                  Last n runs from the run history (default 10)\n")
		fmt.Fprintf(os.Stderr, "  export-runs <file>           Write the run history to Parquet\n")
		fmt.Fprintf(os.Stderr, "  export-days <year> <file>    Write a year's trading days to Parquet\n")
		fmt.Fprintf(os.Stderr, "  status [addr]                Query a running daemon (default from config)\n")
		fmt.Fprintf(os.Stderr, "  version                      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\nThe config path is read from CLOSINGBELL_CONFIG (default %s).\n", config.DefaultPath)
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if args[0] == "version" {
		fmt.Printf("closingbell-cli %s\n", version)
		return
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Only warnings and errors; stdout belongs to command output.
	logger := util.NewLogger("warn", "text", os.Stderr)

	switch args[0] {
	case "export-days":
		if len(args) == 3 {
			args[2] = exportPath(cfg.Storage.ExportDir, args[2])
		}
	case "export-runs":
		if len(args) == 2 {
			args[1] = exportPath(cfg.Storage.ExportDir, args[1])
		}
	}

	switch args[0] {
	case "today", "next", "week", "open", "export-days":
		cal, err := app.NewCalendar(cfg, logger, nil)
		if err != nil {
			log.Fatalf("failed to build trading calendar: %v", err)
		}
		if err := calendarCommand(cal, cfg.Calendar.Lookahead, args); err != nil {
			log.Fatal(err)
		}

	case "history", "export-runs":
		runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open run history: %v", err)
		}
		err = historyCommand(runs, args)
		runs.Close()
		if err != nil {
			log.Fatal(err)
		}

	case "status":
		addr := cfg.Server.Addr
		if len(args) > 1 {
			addr = args[1]
		}
		if err := statusCommand(addr); err != nil {
			log.Fatal(err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}

func calendarCommand(cal *calendar.Calendar, lookahead int, args []string) error {
	now := time.Now().In(cal.Location())
	today := now.Format(domain.DateLayout)

	switch args[0] {
	case "today":
		fmt.Printf("%s %s trading day: %s\n", today, now.Weekday(), yesNo(cal.IsTradingDay(now)))

	case "next":
		next, ok := cal.NextTradingDay(now, lookahead)
		if !ok {
			return fmt.Errorf("no trading day within %d days of %s", lookahead, today)
		}
		fmt.Printf("%s %s\n", next.Format(domain.DateLayout), next.Weekday())

	case "week":
		for _, d := range cal.TradingDaysBetween(now, now.AddDate(0, 0, 6)) {
			fmt.Printf("%s %s\n", d.Format(domain.DateLayout), d.Weekday())
		}

	case "open":
		fmt.Printf("%s market open: %s\n", now.Format(time.DateTime), yesNo(cal.IsMarketOpenTime(now)))
		for _, s := range cal.Sessions() {
			fmt.Printf("  session %s\n", s)
		}

	case "export-days":
		if len(args) != 3 {
			return fmt.Errorf("usage: export-days <year> <file>")
		}
		year, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid year %q", args[1])
		}
		loc := cal.Location()
		days := cal.TradingDaysBetween(
			time.Date(year, time.January, 1, 0, 0, 0, 0, loc),
			time.Date(year, time.December, 31, 0, 0, 0, 0, loc),
		)
		if err := store.ExportTradingDays(args[2], days); err != nil {
			return err
		}
		fmt.Printf("wrote %d trading days for %d to %s\n", len(days), year, args[2])
	}
	return nil
}

func historyCommand(runs store.RunStore, args []string) error {
	ctx := context.Background()

	switch args[0] {
	case "history":
		n := 10
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				return fmt.Errorf("invalid count %q", args[1])
			}
			n = v
		}
		recs, err := runs.ListRuns(ctx, n)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		fmt.Printf("%-5s %-10s %-9s %-7s %-19s %10s  %s\n", "ID", "DATE", "TRIGGER", "STATUS", "STARTED", "DURATION", "ERROR")
		for _, r := range recs {
			fmt.Printf("%-5d %-10s %-9s %-7s %-19s %10s  %s\n",
				r.ID, r.TradeDate, r.Trigger, r.Status,
				r.StartedAt.Local().Format(time.DateTime),
				r.Duration().Round(time.Millisecond), r.Error)
		}

	case "export-runs":
		if len(args) != 2 {
			return fmt.Errorf("usage: export-runs <file>")
		}
		recs, err := runs.ListRuns(ctx, 0)
		if err != nil {
			return err
		}
		if err := store.ExportRuns(args[1], recs); err != nil {
			return err
		}
		fmt.Printf("wrote %d runs to %s\n", len(recs), args[1])
	}
	return nil
}

func statusCommand(addr string) error {
	if addr == "" {
		return fmt.Errorf("no daemon address: set server.addr or pass one")
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	c := closingbell.NewClient("http://" + addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("state:        %s\n", st.State)
	fmt.Printf("schedule:     %s\n", st.ScheduleTime)
	fmt.Printf("next run:     %s\n", st.NextRun.Format(time.DateTime))
	fmt.Printf("trading day:  %s\n", yesNo(st.TradingDay))
	fmt.Printf("market open:  %s\n", yesNo(st.MarketOpen))
	if st.ShutdownRequested {
		fmt.Println("shutdown:     requested")
	}
	if r := st.LastRun; r != nil {
		fmt.Printf("last run:     %s %s (%s)", r.TradeDate, r.Status, r.Trigger)
		if r.Error != "" {
			fmt.Printf(": %s", r.Error)
		}
		fmt.Println()
	}
	return nil
}

// exportPath places a bare file name under dir.
func exportPath(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	return filepath.Join(dir, name)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
