// Package main provides academyctl, a command line client for the academy
// API.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	_ "github.com/lib/pq" // postgres driver
	"golang.org/x/sync/errgroup"

	"github.com/txn2/academy-client/pkg/client"
	"github.com/txn2/academy-client/pkg/config"
	"github.com/txn2/academy-client/pkg/database/migrate"
	"github.com/txn2/academy-client/pkg/services"
	"github.com/txn2/academy-client/pkg/storage"
)

// Version is set at build time.
var Version = "dev"

// envBaseURL supplies the API URL when no config file is given.
const envBaseURL = "ACADEMY_API_URL"

var errNotSignedIn = errors.New("not signed in; run academyctl login first")

func main() {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath  string
	baseURL     string
	statePath   string
	jsonOutput  bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, []string, error) {
	opts := cliOptions{}
	fs := flag.NewFlagSet("academyctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.baseURL, "base-url", "", "Academy API URL (default $"+envBaseURL+")")
	fs.StringVar(&opts.statePath, "state", "", "Session state file when no config file is given")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: academyctl [flags] <command> [args]\n\nCommands:\n")
		for _, name := range commandNames() {
			fmt.Fprintf(stderr, "  %-12s %s\n", name, commands[name].usage)
		}
		fmt.Fprintf(stderr, "\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig reads the config file, or builds a file-backed default from
// flags and the environment.
func loadConfig(opts cliOptions) (*config.Config, error) {
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		if opts.baseURL != "" {
			cfg.API.BaseURL = opts.baseURL
		}
		return cfg, nil
	}

	baseURL := opts.baseURL
	if baseURL == "" {
		baseURL = os.Getenv(envBaseURL)
	}
	cfg := config.Default(baseURL)
	cfg.Storage.Backend = storage.BackendFile
	cfg.Storage.File.Path = opts.statePath
	if cfg.Storage.File.Path == "" {
		cfg.Storage.File.Path = config.DefaultStatePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "academyctl version %s\n", Version)
		return nil
	}
	if len(rest) == 0 {
		return fmt.Errorf("a command is required (one of %s)", strings.Join(commandNames(), ", "))
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", rest[0])
	}
	if len(rest)-1 != cmd.args {
		return fmt.Errorf("usage: academyctl %s", cmd.usage)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.Logging, stderr)

	e := &env{cfg: cfg, logger: logger, out: stdout, json: opts.jsonOutput}
	if cmd.offline {
		return cmd.fn(ctx, e, rest[1:])
	}

	c, err := client.New(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer func() { _ = c.Close() }()
	e.client = c

	return cmd.fn(ctx, e, rest[1:])
}

// env is what a command runs against.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	client *client.Client
	out    io.Writer
	json   bool
}

// resume restores the persisted session.
func (e *env) resume(ctx context.Context) error {
	if !e.client.Initialize(ctx, "", "") {
		return errNotSignedIn
	}
	return nil
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table prints rows under header, or v as JSON with -json.
func (e *env) table(v any, header string, rows [][]string) error {
	if e.json {
		return e.printJSON(v)
	}
	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

type command struct {
	usage   string
	args    int
	offline bool
	fn      func(ctx context.Context, e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":      {usage: "login <username> <password>", args: 2, fn: cmdLogin},
		"logout":     {usage: "logout", fn: cmdLogout},
		"whoami":     {usage: "whoami", fn: cmdWhoami},
		"switch":     {usage: "switch <program-id>", args: 1, fn: cmdSwitch},
		"programs":   {usage: "programs", fn: cmdPrograms},
		"students":   {usage: "students", fn: cmdStudents},
		"courses":    {usage: "courses", fn: cmdCourses},
		"facilities": {usage: "facilities", fn: cmdFacilities},
		"slots":      {usage: "slots <facility-id> <YYYY-MM-DD>", args: 2, fn: cmdSlots},
		"dashboard":  {usage: "dashboard", fn: cmdDashboard},
		"route":      {usage: "route <path>", args: 1, fn: cmdRoute},
		"migrate":    {usage: "migrate", offline: true, fn: cmdMigrate},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cmdLogin(ctx context.Context, e *env, args []string) error {
	if !e.client.Login(ctx, args[0], args[1]) {
		return errors.New("login failed")
	}
	return printSession(e)
}

func cmdLogout(ctx context.Context, e *env, _ []string) error {
	// Install the stored tokens so the server session is ended too.
	e.client.Initialize(ctx, "", "")
	e.client.Logout(ctx)
	fmt.Fprintln(e.out, "Signed out")
	return nil
}

func cmdWhoami(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	return printSession(e)
}

func cmdSwitch(ctx context.Context, e *env, args []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	if !e.client.SwitchProgram(ctx, args[0]) {
		return fmt.Errorf("cannot switch to program %s", args[0])
	}
	return printSession(e)
}

type session struct {
	User    services.User `json:"user"`
	Program string        `json:"program,omitempty"`
	Role    string        `json:"program_role,omitempty"`
}

func printSession(e *env) error {
	user, _ := e.client.CurrentUser()
	s := session{User: user}
	if pc, ok := e.client.Programs().Current(); ok {
		s.Program = pc.ProgramID
		s.Role = string(pc.UserRole)
	}
	if e.json {
		return e.printJSON(s)
	}

	name := user.FullName()
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(e.out, "Signed in as %s (%s)\n", name, user.Role)
	if s.Program == "" {
		fmt.Fprintln(e.out, "No program selected")
	} else {
		fmt.Fprintf(e.out, "Program: %s as %s\n", s.Program, s.Role)
	}
	return nil
}

func responseError(what string, status int, msg string) error {
	return fmt.Errorf("listing %s: status %d: %s", what, status, msg)
}

func cmdPrograms(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	resp, err := e.client.Services().Programs.List(ctx, services.ListParams{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return responseError("programs", resp.StatusCode, resp.Error)
	}
	rows := make([][]string, 0, len(resp.Data.Items))
	for _, p := range resp.Data.Items {
		rows = append(rows, []string{p.ID, p.Name})
	}
	return e.table(resp.Data, "ID\tNAME", rows)
}

func cmdStudents(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	resp, err := e.client.Services().Students.List(ctx, services.ListParams{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return responseError("students", resp.StatusCode, resp.Error)
	}
	rows := make([][]string, 0, len(resp.Data.Items))
	for _, s := range resp.Data.Items {
		rows = append(rows, []string{s.ID, s.FirstName + " " + s.LastName, s.Grade})
	}
	return e.table(resp.Data, "ID\tNAME\tGRADE", rows)
}

func cmdCourses(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	resp, err := e.client.Services().Courses.List(ctx, services.ListParams{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return responseError("courses", resp.StatusCode, resp.Error)
	}
	rows := make([][]string, 0, len(resp.Data.Items))
	for _, c := range resp.Data.Items {
		rows = append(rows, []string{c.ID, c.Name, fmt.Sprint(c.Capacity)})
	}
	return e.table(resp.Data, "ID\tNAME\tCAPACITY", rows)
}

func cmdFacilities(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	resp, err := e.client.Services().Facilities.List(ctx, services.ListParams{})
	if err != nil {
		return err
	}
	if !resp.Success {
		return responseError("facilities", resp.StatusCode, resp.Error)
	}
	rows := make([][]string, 0, len(resp.Data.Items))
	for _, f := range resp.Data.Items {
		rows = append(rows, []string{f.ID, f.Name, f.Type})
	}
	return e.table(resp.Data, "ID\tNAME\tTYPE", rows)
}

func cmdSlots(ctx context.Context, e *env, args []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	resp, err := e.client.Services().Facilities.Availability(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if !resp.Success {
		return responseError("availability", resp.StatusCode, resp.Error)
	}
	rows := make([][]string, 0, len(resp.Data.Slots))
	for _, s := range resp.Data.Slots {
		free := "no"
		if s.Available {
			free = "yes"
		}
		rows = append(rows, []string{s.Start, s.End, free})
	}
	return e.table(resp.Data, "START\tEND\tAVAILABLE", rows)
}

type dashboard struct {
	Program    string `json:"program"`
	Students   int    `json:"students"`
	Courses    int    `json:"courses"`
	Facilities int    `json:"facilities"`
}

// cmdDashboard fetches the program totals concurrently.
func cmdDashboard(ctx context.Context, e *env, _ []string) error {
	if err := e.resume(ctx); err != nil {
		return err
	}
	svc := e.client.Services()
	d := dashboard{Program: e.client.Programs().ProgramID()}
	if d.Program == "" {
		return errors.New("no program selected; run academyctl switch first")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := svc.Students.List(gctx, services.ListParams{})
		if err != nil {
			return err
		}
		if !resp.Success {
			return responseError("students", resp.StatusCode, resp.Error)
		}
		d.Students = resp.Data.Total
		return nil
	})
	g.Go(func() error {
		resp, err := svc.Courses.List(gctx, services.ListParams{})
		if err != nil {
			return err
		}
		if !resp.Success {
			return responseError("courses", resp.StatusCode, resp.Error)
		}
		d.Courses = resp.Data.Total
		return nil
	})
	g.Go(func() error {
		resp, err := svc.Facilities.List(gctx, services.ListParams{})
		if err != nil {
			return err
		}
		if !resp.Success {
			return responseError("facilities", resp.StatusCode, resp.Error)
		}
		d.Facilities = resp.Data.Total
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if e.json {
		return e.printJSON(d)
	}
	fmt.Fprintf(e.out, "Program %s: %d students, %d courses, %d facilities\n",
		d.Program, d.Students, d.Courses, d.Facilities)
	return nil
}

func cmdRoute(ctx context.Context, e *env, args []string) error {
	// A missing session is a valid input: the guard redirects to login.
	e.client.Initialize(ctx, "", "")
	d := e.client.CanVisit(args[0])
	if e.json {
		return e.printJSON(d)
	}
	if d.Allowed {
		fmt.Fprintf(e.out, "%s: allowed\n", args[0])
		return nil
	}
	fmt.Fprintf(e.out, "%s: redirect to %s (%s)\n", args[0], d.Redirect, d.Reason)
	return nil
}

func cmdMigrate(ctx context.Context, e *env, _ []string) error {
	if e.cfg.Storage.Backend != storage.BackendPostgres {
		return fmt.Errorf("migrate needs the postgres storage backend, not %s", e.cfg.Storage.Backend)
	}
	db, err := sql.Open("postgres", e.cfg.Storage.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrate.Run(db); err != nil {
		return err
	}
	version, dirty, err := migrate.Version(db)
	if err != nil {
		return fmt.Errorf("reading migration version: %w", err)
	}
	fmt.Fprintf(e.out, "Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
