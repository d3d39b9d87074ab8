package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mealtrack/internal/amqp"
	"mealtrack/internal/config"
	"mealtrack/internal/core"
	"mealtrack/internal/kv/sqlite"
	"mealtrack/internal/log"
	"mealtrack/internal/outbox"
	"mealtrack/internal/prefs"
	"mealtrack/internal/remote"
	"mealtrack/internal/report"
	"mealtrack/internal/store"
)

type app struct {
	logger    *log.Logger
	userID    string
	prefsPath string
}

// session opens the cache, resolves the user and loads their bundle.
// The returned cleanup closes the cache database.
func (a *app) session(ctx context.Context) (*store.Session, *sqlite.Store, func(), error) {
	p, err := prefs.Load(a.prefsPath)
	if err != nil {
		return nil, nil, nil, err
	}

	cachePath, err := p.ResolveCachePath()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve cache path: %w", err)
	}

	cache, err := sqlite.New(cachePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open cache: %w", err)
	}
	closers := []func(){func() { _ = cache.Close() }}
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	userID := a.userID
	if userID == "" {
		userID, err = store.LastUserID(ctx, cache)
		if err != nil || userID == "" {
			cleanup()
			return nil, nil, nil, fmt.Errorf("no user selected, run 'mealtrack login <user>' first")
		}
	}

	opts := store.Options{}
	if p.ServerURL != "" {
		rc, err := remote.NewClient(p.ServerURL)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("remote client: %w", err)
		}
		opts.Remote = rc
		// Saves queue locally; 'mealtrack sync' or the worker drains them.
		opts.Marker = cache
	}

	// An AMQP broker, when configured, nudges the worker to drain the
	// queue right away instead of waiting for the next poll.
	if envCfg := config.Load(); envCfg.AMQPURL != "" {
		if pub, err := amqp.NewClient(envCfg.AMQPURL, envCfg.AMQPExchange, envCfg.AMQPQueue); err != nil {
			a.logger.Warn("AMQP unavailable, falling back to polling", "error", err)
		} else {
			opts.Publisher = pub
			closers = append(closers, func() { _ = pub.Close() })
		}
	}

	s, err := store.NewSession(ctx, userID, cache, opts)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := s.Load(ctx); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("load bundle: %w", err)
	}
	return s, cache, cleanup, nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", "", "sync server URL to remember")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: mealtrack login [-server URL] <user>")
	}

	if *serverURL != "" {
		p, err := prefs.Load(a.prefsPath)
		if err != nil {
			return err
		}
		p.ServerURL = *serverURL
		if err := prefs.Save(a.prefsPath, p); err != nil {
			return err
		}
	}

	a.userID = fs.Arg(0)
	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("logged in as %s (%d days on record)\n", s.UserID(), len(s.Bundle().MealData))
	return nil
}

func (a *app) cmdSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	monthFlag := fs.String("month", "", "month to summarize (YYYY-MM, default current)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	year, month, err := parseMonth(*monthFlag)
	if err != nil {
		return err
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sum := s.AggregateMonth(year, month)
	fmt.Printf("%04d-%02d for %s\n", sum.Year, int(sum.Month), s.UserID())
	fmt.Printf("  spent:        %d\n", sum.Spent)
	fmt.Printf("  reimbursable: %d\n", sum.Reimbursable)
	fmt.Printf("  remaining:    %d\n", sum.Remaining)
	fmt.Printf("  budget used:  %d%%\n", sum.UsagePercent)
	return nil
}

func (a *app) cmdSet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	price := fs.Int64("price", 0, "price in won (outing only, defaults to the usual)")
	place := fs.String("place", "", "restaurant name (outing only)")
	card := fs.String("card", "", "card used (outing only, defaults to the last one)")
	mealTime := fs.String("time", "", "breakfast, lunch or dinner (outing only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: mealtrack set [flags] <YYYY-MM-DD> <cafeteria|outing|holiday>")
	}
	key := core.DateKey(fs.Arg(0))

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var rec core.Record
	switch mealType := core.MealType(fs.Arg(1)); mealType {
	case core.Cafeteria:
		rec = core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice}
	case core.Holiday:
		rec = core.Record{Type: core.Holiday, Price: 0}
	case core.Outing:
		rec = core.Record{
			Type:  core.Outing,
			Price: *price,
			Place: strings.TrimSpace(*place),
			Card:  strings.TrimSpace(*card),
			Time:  core.MealTime(*mealTime),
		}
		if rec.Price == 0 {
			rec.Price = core.DefaultOutingPrice
		}
		if rec.Card == "" {
			rec.Card = s.LastCard()
		}
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownType, fs.Arg(1))
	}

	res, err := s.SaveMeal(ctx, key, rec)
	if err != nil {
		return err
	}
	fmt.Printf("%s set to %s (%d won), %s\n", key, rec.Type, rec.Price, describeSync(res))
	return nil
}

func (a *app) cmdInitMonth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init-month", flag.ExitOnError)
	monthFlag := fs.String("month", "", "month to initialize (YYYY-MM, default current)")
	force := fs.Bool("force", false, "reinitialize even if the month already has records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	year, month, err := parseMonth(*monthFlag)
	if err != nil {
		return err
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if *force {
		res, err := s.InitializeMonth(ctx, year, month)
		if err != nil {
			return err
		}
		fmt.Printf("%04d-%02d reinitialized, %s\n", year, int(month), describeSync(res))
		return nil
	}

	initialized, err := s.EnsureMonthInitialized(ctx, year, month)
	if err != nil {
		return err
	}
	if initialized {
		fmt.Printf("%04d-%02d initialized with defaults\n", year, int(month))
	} else {
		fmt.Printf("%04d-%02d already has records, nothing to do\n", year, int(month))
	}
	return nil
}

func (a *app) cmdResetDay(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mealtrack reset-day <YYYY-MM-DD>")
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := s.ResetDay(ctx, core.DateKey(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("%s reset to default, %s\n", args[0], describeSync(res))
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	h := s.Bundle().History
	show := func(kind core.HistoryKind, values []string) {
		fmt.Printf("%s:\n", kind)
		if len(values) == 0 {
			fmt.Println("  (none)")
			return
		}
		// Most recent last, same order the picker shows.
		for _, v := range values {
			fmt.Printf("  %s\n", v)
		}
	}

	if len(args) == 1 {
		switch core.HistoryKind(args[0]) {
		case core.Places:
			show(core.Places, h.Places)
		case core.Cards:
			show(core.Cards, h.Cards)
		default:
			return fmt.Errorf("%w: %q", core.ErrUnknownHistoryKind, args[0])
		}
		return nil
	}

	show(core.Places, h.Places)
	show(core.Cards, h.Cards)
	return nil
}

func (a *app) cmdForget(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: mealtrack forget <places|cards> <value>")
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := s.DeleteHistoryEntry(ctx, core.HistoryKind(args[0]), args[1])
	if err != nil {
		return err
	}
	fmt.Printf("removed %q from %s, %s\n", args[1], args[0], describeSync(res))
	return nil
}

func (a *app) cmdStats(ctx context.Context, args []string) error {
	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	top := s.TopPlaces()
	if len(top) == 0 {
		fmt.Println("no outings recorded yet")
		return nil
	}
	for i, pv := range top {
		fmt.Printf("%2d. %s (%d visits)\n", i+1, pv.Place, pv.Visits)
	}
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	raw, err := s.ExportJSON()
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("exported %s to %s\n", s.UserID(), *out)
	return nil
}

func (a *app) cmdImport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mealtrack import <file>")
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := s.ImportBundle(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d days, %s\n", len(s.Bundle().MealData), describeSync(res))
	return nil
}

func (a *app) cmdSync(ctx context.Context, args []string) error {
	p, err := prefs.Load(a.prefsPath)
	if err != nil {
		return err
	}
	if p.ServerURL == "" {
		return fmt.Errorf("no server configured, run 'mealtrack login -server URL <user>'")
	}

	s, cache, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rc, err := remote.NewClient(p.ServerURL)
	if err != nil {
		return err
	}

	// Mark the current user dirty so the drain pushes the latest bundle
	// even when no save is pending.
	if err := cache.MarkDirty(ctx, s.UserID()); err != nil {
		return err
	}

	cfg := outbox.DefaultConfig()
	processor := outbox.NewProcessor(cache, rc, cfg, a.logger)
	processor.ProcessBatch(ctx)

	pending, err := cache.PendingPushes(ctx, cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("sync incomplete, %d push(es) still pending", len(pending))
	}
	fmt.Println("sync complete")
	return nil
}

func (a *app) cmdReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	monthFlag := fs.String("month", "", "month to report (YYYY-MM, default current)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	year, month, err := parseMonth(*monthFlag)
	if err != nil {
		return err
	}

	p, err := prefs.Load(a.prefsPath)
	if err != nil {
		return err
	}
	envCfg := config.Load()

	spreadsheet := p.ReportSpreadsheet
	if spreadsheet == "" {
		spreadsheet = envCfg.GoogleSpreadsheetID
	}
	if spreadsheet == "" {
		return fmt.Errorf("no report spreadsheet configured")
	}
	sheet := p.ReportSheet
	if sheet == "" {
		sheet = envCfg.GoogleSheetName
	}

	s, _, cleanup, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := report.New(ctx, report.Config{
		SpreadsheetID:   spreadsheet,
		SheetName:       sheet,
		CredentialsFile: envCfg.GoogleCredentialsFile,
		CredentialsJSON: envCfg.GoogleCredentialsJSON,
	})
	if err != nil {
		return err
	}

	sum := s.AggregateMonth(year, month)
	ref, err := client.AppendClaim(ctx, s.UserID(), sum)
	if err != nil {
		return err
	}
	fmt.Printf("claim for %04d-%02d appended (%s)\n", year, int(month), ref)
	return nil
}

// parseMonth parses YYYY-MM, defaulting to the current month.
func parseMonth(v string) (int, time.Month, error) {
	if strings.TrimSpace(v) == "" {
		now := time.Now()
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q, want YYYY-MM", v)
	}
	return t.Year(), t.Month(), nil
}

func describeSync(res store.SyncResult) string {
	switch res.State {
	case store.SyncPushed:
		return "synced"
	case store.SyncQueued:
		return "queued for sync"
	case store.SyncFailed:
		return fmt.Sprintf("saved locally (sync failed: %v)", res.Err)
	default:
		return "saved locally"
	}
}
