package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/config"
	"shed/misc"
	"shed/state"
	"shed/store"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if db := cmd.String("db"); len(db) > 0 {
		env.Cfg.Store.Path = db
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		if data, err := config.Dump(env.Cfg); err == nil {
			env.Rpt.StoreData("config/actual.yaml", data)
		}
	}
	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()), zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()))

	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	// pending saves finish here
	if er := env.Close(); er != nil {
		err = multierr.Append(err, er)
		if env.Log != nil {
			env.Log.Error("Unable to close documents", zap.Error(er))
		}
	}

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	// close logging
	env.RestoreStdLog()

	// log is synced now and result can be used in report if necessary, errors
	// must be reported directly to stderr from now on
	if env.Rpt != nil {
		if db := env.Cfg.Store.Path; db != store.Memory {
			if _, er := os.Stat(db); er == nil {
				if er := env.Rpt.StoreCopy("store/"+filepath.Base(db), db); er != nil {
					err = multierr.Append(err, fmt.Errorf("unable to copy document store into debug report: %w", er))
				}
			}
		}
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", er))
		}
	}
	// reporting is closed now - remove empty panic file if any
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Subcommands return regular errors, cli.Exit is not used.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.EnvFromContext(ctx)
	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// do nothing special, error is reported either by exitErrHandler or on
	// exit directly to stderr.
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	if log := state.EnvFromContext(ctx).Log; log != nil {
		log.Warn("Unknown command, nothing to do", zap.String("command", name))
	}
}

var searchFlags = []cli.Flag{
	&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "search documents of project `ID`", Required: true},
	&cli.BoolFlag{Name: "regex", Aliases: []string{"re"}, Usage: "treat pattern as regular expression"},
	&cli.BoolFlag{Name: "case", Usage: "case sensitive search (overrides configuration)"},
	&cli.BoolFlag{Name: "word", Usage: "match whole words only (overrides configuration)"},
}

func main() {

	// allow graceful shutdown on interrupt, background saves are waited for
	// in destroyAppContext
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "maintenance tool for versioned rich text documents",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.StringFlag{Name: "db", DefaultText: "", Usage: "use document store `FILE` instead of configured one"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
		},
		Commands: []*cli.Command{
			{
				Name:         "versions",
				Usage:        "Lists versions of a document, optionally changing current one first",
				OnUsageError: usageErrorHandler,
				Action:       manageVersions,
				ArgsUsage:    "DOCUMENT",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "add", Usage: "duplicate current version"},
					&cli.StringFlag{Name: "select", Usage: "make version `ID` current"},
					&cli.StringFlag{Name: "lock", Usage: "lock current version giving `REASON`"},
					&cli.BoolFlag{Name: "unlock", Usage: "unlock current version"},
					&cli.StringFlag{Name: "comment", Usage: "set comment of current version to `TEXT`"},
				},
			},
			{
				Name:         "search",
				Usage:        "Finds text in documents of a project",
				OnUsageError: usageErrorHandler,
				Action:       searchDocuments,
				ArgsUsage:    "PATTERN",
				Flags:        searchFlags,
			},
			{
				Name:         "replace",
				Usage:        "Replaces every match in documents of a project, one undoable step per document",
				OnUsageError: usageErrorHandler,
				Action:       replaceInDocuments,
				ArgsUsage:    "PATTERN REPLACEMENT",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "only show what would be replaced"},
				}, searchFlags...),
			},
			{
				Name:         "restyle",
				Usage:        "Sets project stylesheet and reapplies styles to all documents of the project",
				OnUsageError: usageErrorHandler,
				Action:       restyleProject,
				ArgsUsage:    "PROJECT STYLESHEET",
				CustomHelpTemplate: fmt.Sprintf(`%s
STYLESHEET:
    path to stylesheet definition, either CSS (*.css) where every class rule
    defines a style, or YAML with named styles
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "reconcile",
				Usage:        "Checks every version of documents against stored comments and footnotes, repairing markers",
				OnUsageError: usageErrorHandler,
				Action:       reconcileDocuments,
				ArgsUsage:    "[DOCUMENT...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "process all documents of project `ID`"},
				},
			},
			{
				Name:         "inspect",
				Usage:        "Writes human readable dump of a document",
				OnUsageError: usageErrorHandler,
				Action:       inspectDocument,
				ArgsUsage:    "DOCUMENT [DESTINATION]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "previews", Usage: "also write PNG previews of images"},
				},
				CustomHelpTemplate: fmt.Sprintf(`%s
DESTINATION:
    directory to put dump to, file is named after document title
    if absent - current working directory
`, cli.CommandHelpTemplate),
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values which is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()
	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
