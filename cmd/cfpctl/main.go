// Command cfpctl runs the operator tasks of the CFP back office against the configured database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kardianos/osext"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	cfp "github.com/derWhity/cfpdesk/internal"
	"github.com/derWhity/cfpdesk/internal/app"
	"github.com/derWhity/cfpdesk/internal/ctxhelper"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
)

// command is one operator task. Its result is printed as JSON.
type command struct {
	usage string
	run   func(ctx context.Context, a *app.App, args []string) (interface{}, error)
}

var commands = map[string]command{
	"lottery": {
		usage: "[--dry-run|--no-dry-run] [--notify-losers]   draw the workshop lottery",
		run:   runLottery,
	},
	"schedule": {
		usage: "[--persist] [--ignore_potential] [--type T|all]   run the scheduler",
		run:   runSchedule,
	},
	"apply_potential_schedule": {
		usage: "[--email|--no-email] --type T|all   promote the potential slots to the schedule",
		run:   runApplyPotential,
	},
	"set_rough_durations": {
		usage: "   derive durations of accepted proposals from their length hint",
		run: func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
			n, err := a.Services.Schedule.SetRoughDurations(ctx)
			return map[string]int{"updated": n}, err
		},
	},
	"create_venues": {
		usage: "   create the standard venues",
		run: func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
			return a.Services.Venues.CreateDefaults(ctx)
		},
	},
	"email_check": {
		usage: "   ask accepted authors to check their details",
		run:   bulkEmail(models.MailCheckDetails),
	},
	"email_finalise": {
		usage: "   remind accepted authors to finalise",
		run:   bulkEmail(models.MailFinalise),
	},
	"email_reserve": {
		usage: "   tell reviewed but not accepted authors they are on the reserve list",
		run:   bulkEmail(models.MailReserve),
	},
	"import": {
		usage: "CSV_FILE [--state S]   import proposals from a CSV file",
		run:   runImport,
	},
	"sense_check": {
		usage: "   report anomalies of the current schedule",
		run: func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
			return a.Services.Schedule.SenseCheck(ctx)
		},
	},
	"close_round": {
		usage: "-min-votes N [-preview]   mark anonymised proposals with enough votes as reviewed",
		run:   runCloseRound,
	},
	"ranking": {
		usage: "   show the reviewed proposals, best score first",
		run: func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
			return a.Services.Rounds.Ranking(ctx)
		},
	},
	"accept": {
		usage: "-min-score X [-mode accepted_unaccepted|accepted|nobody|accepted_reject]   accept ranked proposals",
		run:   runAccept,
	},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: cfpctl [-config FILE] [-v] COMMAND [ARGS]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s %s\n", name, commands[name].usage)
	}
}

func main() {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		panic(err)
	}
	configFile := flag.String(
		"config",
		filepath.Join(execDir, "config.json"),
		"The configuration file to load the application's configuration from",
	)
	verbose := flag.Bool("v", false, "Log debug output")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command '%s'\n\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}

	logrus.SetOutput(os.Stderr)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logger := logrus.WithField("command", flag.Arg(0))
	ctx := ctxhelper.WithLogger(context.Background(), logger)

	cs := cfp.NewConfigService(*configFile)
	if err := cs.Load(ctx); err != nil {
		logger.WithError(err).Warn("Cannot load config. Using defaults")
	}
	a, err := app.New(ctx, cs, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up the application")
	}
	res, err := run(ctx, a, cmd, flag.Args()[1:])
	a.Close()
	if err != nil {
		fields := logrus.Fields{}
		if code := cfp.ErrorCodeOf(err); code != cfp.ErrCodeUnknown {
			fields["code"] = code
		}
		logger.WithFields(fields).WithError(err).Error("Command failed")
		os.Exit(1)
	}
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			logger.WithError(err).Error("Cannot print result")
			os.Exit(1)
		}
	}
}

// run executes the command as the configured admin and hands queued mails to the mailer afterwards
func run(ctx context.Context, a *app.App, cmd command, args []string) (interface{}, error) {
	ctx, err := a.AdminContext(ctx)
	if err != nil {
		return nil, err
	}
	res, err := cmd.run(ctx, a, args)
	if err != nil {
		return nil, err
	}
	sent, failed, err := a.Services.Notifications.Flush(ctx)
	if err != nil {
		return nil, err
	}
	if sent+failed > 0 {
		ctxhelper.Logger(ctx).WithFields(logrus.Fields{"sent": sent, log.FldMail: "outbox", "failed": failed}).
			Info("Queued mails handed over")
	}
	return res, nil
}

func bulkEmail(kind string) func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	return func(ctx context.Context, a *app.App, args []string) (interface{}, error) {
		n, err := a.Services.Notifications.BulkEmail(ctx, kind)
		return map[string]int{"queued": n}, err
	}
}

// negatableBool is a bool flag registered together with its "no-" negation
type negatableBool struct {
	p    *bool
	sets bool
}

func (b *negatableBool) String() string {
	if b == nil || b.p == nil {
		return "false"
	}
	return strconv.FormatBool(*b.p == b.sets)
}

func (b *negatableBool) Set(text string) error {
	v, err := strconv.ParseBool(text)
	if err != nil {
		return err
	}
	*b.p = v == b.sets
	return nil
}

func (b *negatableBool) IsBoolFlag() bool {
	return true
}

// boolPair defines the flags -name and -no-name which both write to p
func boolPair(fs *flag.FlagSet, p *bool, name string, value bool, usage string) {
	*p = value
	fs.Var(&negatableBool{p: p, sets: true}, name, usage)
	fs.Var(&negatableBool{p: p, sets: false}, "no-"+name, "Negates -"+name)
}

// parseInterspersed parses the flags of fs wherever they appear between the positional arguments and returns the
// positional arguments
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func parseLotteryArgs(args []string) (*cfp.LotteryRun, error) {
	fs := flag.NewFlagSet("lottery", flag.ContinueOnError)
	req := cfp.LotteryRun{}
	boolPair(fs, &req.DryRun, "dry-run", false, "Draw, report and roll back")
	fs.BoolVar(&req.NotifyLosers, "notify-losers", false, "Also mail the users who won nothing")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument '%s'", fs.Arg(0))
	}
	return &req, nil
}

func runLottery(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	req, err := parseLotteryArgs(args)
	if err != nil {
		return nil, err
	}
	return a.Services.Lottery.Run(ctx, req)
}

// parseTypes parses a comma separated list of proposal types. "all" stands for every scheduled type and is
// returned as an empty list.
func parseTypes(text string) ([]models.ProposalType, error) {
	var types []models.ProposalType
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		if part == "all" {
			return nil, nil
		}
		t := models.ProposalType(part)
		if !t.Valid() {
			return nil, fmt.Errorf("'%s' is no valid proposal type", part)
		}
		types = append(types, t)
	}
	return types, nil
}

func parseScheduleArgs(args []string) (*cfp.ScheduleRun, error) {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	types := fs.String("type", "all", "Proposal type to schedule, a comma separated list or 'all'")
	req := cfp.ScheduleRun{}
	fs.BoolVar(&req.Persist, "persist", false, "Write the result to the potential slots")
	fs.BoolVar(&req.IgnorePotential, "ignore_potential", false, "Do not start from the current potential slots")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument '%s'", fs.Arg(0))
	}
	var err error
	if req.Types, err = parseTypes(*types); err != nil {
		return nil, err
	}
	return &req, nil
}

func runSchedule(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	req, err := parseScheduleArgs(args)
	if err != nil {
		return nil, err
	}
	return a.Services.Schedule.Run(ctx, req)
}

// parseApplyArgs returns the type to apply (empty for all types) and whether to mail the authors
func parseApplyArgs(args []string) (models.ProposalType, bool, error) {
	fs := flag.NewFlagSet("apply_potential_schedule", flag.ContinueOnError)
	t := fs.String("type", "", "Proposal type to apply or 'all'")
	var email bool
	boolPair(fs, &email, "email", true, "Mail the authors about their slot")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	switch {
	case fs.NArg() > 0:
		return "", false, fmt.Errorf("unexpected argument '%s'", fs.Arg(0))
	case *t == "":
		return "", false, fmt.Errorf("apply_potential_schedule needs --type")
	case *t == "all":
		return "", email, nil
	case !models.ProposalType(*t).Valid():
		return "", false, fmt.Errorf("'%s' is no valid proposal type", *t)
	}
	return models.ProposalType(*t), email, nil
}

func runApplyPotential(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	t, email, err := parseApplyArgs(args)
	if err != nil {
		return nil, err
	}
	n, err := a.Services.Schedule.ApplyPotential(ctx, t, email)
	return map[string]int{"applied": n}, err
}

// parseImportArgs returns the CSV file and the state of the imported proposals
func parseImportArgs(args []string) (string, models.ProposalState, error) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	state := fs.String("state", string(models.StateChecked), "The state of the imported proposals")
	files, err := parseInterspersed(fs, args)
	if err != nil {
		return "", "", err
	}
	if len(files) != 1 {
		return "", "", fmt.Errorf("import needs exactly one CSV file")
	}
	return files[0], models.ProposalState(*state), nil
}

func runImport(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	file, state, err := parseImportArgs(args)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return a.Services.Import.ImportCSV(ctx, f, state)
}

func runCloseRound(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("close_round", flag.ContinueOnError)
	minVotes := fs.Int("min-votes", -1, "Minimum number of cast votes")
	preview := fs.Bool("preview", false, "Only list the proposals that would be closed")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *minVotes < 0 {
		return nil, fmt.Errorf("close_round needs -min-votes")
	}
	if *preview {
		return a.Services.Rounds.PreviewClose(ctx, *minVotes)
	}
	return a.Services.Rounds.Close(ctx, *minVotes)
}

func runAccept(ctx context.Context, a *app.App, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	req := cfp.AcceptRequest{}
	fs.Float64Var(&req.MinScore, "min-score", 0, "Minimum normalised score")
	fs.StringVar(&req.Mode, "mode", cfp.AcceptModeAcceptedUnaccepted, "Which authors get mail")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return a.Services.Rounds.Accept(ctx, &req)
}
