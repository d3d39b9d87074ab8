// Command mealtrack is the local-first client for tracking meal
// expenses. State lives in a local SQLite cache and is pushed to the
// sync server on a best-effort basis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mealtrack/internal/cli"
	"mealtrack/internal/log"
)

const usage = `Usage: mealtrack [-user ID] [-prefs FILE] <command> [args]

Commands:
  login <user>             switch to a user and remember it
  summary [-month YYYY-MM] show spending for a month
  set <date> <type>        record a meal (see flags of 'set -h')
  init-month [-month]      fill a month with defaults
  reset-day <date>         restore a day to its default
  history [places|cards]   show saved places or cards
  forget <kind> <value>    delete one history entry
  stats                    rank outing places by visits
  export [-o FILE]         export the bundle as JSON
  import <file>            replace the bundle from a JSON export
  sync                     push the current bundle to the server
  report [-month YYYY-MM]  append a claim row to the report sheet
`

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)

	var (
		userFlag  = flag.String("user", "", "user ID (defaults to the last used one)")
		prefsFlag = flag.String("prefs", "", "preferences file path")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	app := &app{
		logger:    logger,
		userID:    *userFlag,
		prefsPath: *prefsFlag,
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "login":
		err = app.cmdLogin(ctx, args)
	case "summary":
		err = app.cmdSummary(ctx, args)
	case "set":
		err = app.cmdSet(ctx, args)
	case "init-month":
		err = app.cmdInitMonth(ctx, args)
	case "reset-day":
		err = app.cmdResetDay(ctx, args)
	case "history":
		err = app.cmdHistory(ctx, args)
	case "forget":
		err = app.cmdForget(ctx, args)
	case "stats":
		err = app.cmdStats(ctx, args)
	case "export":
		err = app.cmdExport(ctx, args)
	case "import":
		err = app.cmdImport(ctx, args)
	case "sync":
		err = app.cmdSync(ctx, args)
	case "report":
		err = app.cmdReport(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
