// cmd/tools/broadcastctl/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"broadcast-dispatch/internal/broadcast"
	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/database"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/store"
	"broadcast-dispatch/pkg/registry"
)

// env is what the broadcast commands run against.
type env struct {
	svc *broadcast.Service
	db  *sql.DB // nil with the memory driver
}

// connector opens an env; the returned func releases it.
type connector func(ctx context.Context) (*env, func(), error)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, connect); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect builds the broadcast service from the regular config files.
func connect(ctx context.Context) (*env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewStructured("warn", "console")

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return nil, nil, err
	}
	if err := rdb.Ping(ctx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	closers := []func() error{rdb.Close}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	e := &env{}
	var st store.Store
	if cfg.Database.Driver == "memory" {
		st = store.NewMemoryStore()
	} else {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			release()
			return nil, nil, err
		}
		closers = append(closers, pg.Close)
		if err := pg.Ping(ctx); err != nil {
			release()
			return nil, nil, err
		}
		st = store.NewPostgresStore(pg.DB)
		e.db = pg.DB
	}

	validator, err := registry.Default().PayloadValidator(config.WorkerMessageDispatch)
	if err != nil {
		release()
		return nil, nil, err
	}
	q := queue.NewRedisQueue(rdb.Client, queue.ConfigFrom(cfg.Queue), queue.WithLogger(log), queue.WithValidator(validator))
	e.svc = broadcast.NewService(st, q,
		broadcast.WithLogger(log),
		broadcast.WithDefaultTimezone(cfg.Scheduler.Timezone),
	)
	return e, release, nil
}

func run(ctx context.Context, args []string, out io.Writer, open connector) error {
	if len(args) < 1 {
		help(out)
		return fmt.Errorf("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "registry":
		return runRegistry(rest, out)
	case "help", "-h", "--help":
		help(out)
		return nil
	case "create", "start", "pause", "resume", "cancel", "delete", "stats", "contacts", "add-contacts", "migrate":
	default:
		help(out)
		return fmt.Errorf("unknown command %q", cmd)
	}

	e, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()

	switch cmd {
	case "create":
		return runCreate(ctx, e, rest, out)
	case "add-contacts":
		return runAddContacts(ctx, e, rest, out)
	case "stats":
		id, err := parseID(cmd, rest)
		if err != nil {
			return err
		}
		stats, err := e.svc.Stats(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out, stats)
	case "contacts":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "Broadcast ID")
		status := fs.String("status", "pending", "Contact status (pending, sent, delivered, read, failed)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("contacts: -id is required")
		}
		list, err := e.svc.ContactsByStatus(ctx, *id, *status)
		if err != nil {
			return err
		}
		return printJSON(out, list)
	case "migrate":
		if e.db == nil {
			return fmt.Errorf("migrate requires the postgres driver")
		}
		if err := store.Migrate(ctx, e.db); err != nil {
			return err
		}
		fmt.Fprintln(out, "Schema applied.")
		return nil
	default:
		return runLifecycle(ctx, e, cmd, rest, out)
	}
}

func runCreate(ctx context.Context, e *env, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	file := fs.String("file", "", "JSON file with the full create request (overrides the other flags)")
	name := fs.String("name", "", "Broadcast name")
	description := fs.String("description", "", "Description")
	channel := fs.String("channel", "sms", "Channel")
	start := fs.String("start", "", "Start date (ISO 8601); schedules the broadcast")
	tz := fs.String("tz", "", "IANA timezone of a zoneless start date")
	contacts := fs.String("contacts", "", "JSON file with [{name, phone, displayName}]")
	tplName := fs.String("template-name", "", "Template name")
	tplContent := fs.String("template", "", "Template content with {{variable}} placeholders")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var in broadcast.CreateInput
	if *file != "" {
		if err := readJSON(*file, &in); err != nil {
			return err
		}
	} else {
		in = broadcast.CreateInput{
			Name:        *name,
			Description: *description,
			Channel:     *channel,
			StartDate:   *start,
			Timezone:    *tz,
		}
		if *contacts != "" {
			if err := readJSON(*contacts, &in.Contacts); err != nil {
				return err
			}
		}
		if *tplContent != "" {
			in.Template = &models.NewTemplateInput{Name: *tplName, Content: *tplContent}
			if in.Template.Name == "" {
				in.Template.Name = in.Name
			}
		}
	}

	res, err := e.svc.Create(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runAddContacts(ctx context.Context, e *env, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add-contacts", flag.ContinueOnError)
	id := fs.String("id", "", "Broadcast ID")
	file := fs.String("file", "", "JSON file with [{name, phone, displayName}]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *file == "" {
		return fmt.Errorf("add-contacts: -id and -file are required")
	}
	var inputs []models.NewContactInput
	if err := readJSON(*file, &inputs); err != nil {
		return err
	}
	res, err := e.svc.AddContacts(ctx, *id, inputs)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runLifecycle(ctx context.Context, e *env, cmd string, args []string, out io.Writer) error {
	id, err := parseID(cmd, args)
	if err != nil {
		return err
	}

	var res *broadcast.Result
	switch cmd {
	case "start":
		res, err = e.svc.Start(ctx, id)
	case "pause":
		res, err = e.svc.Pause(ctx, id)
	case "resume":
		res, err = e.svc.Resume(ctx, id)
	case "cancel":
		res, err = e.svc.Cancel(ctx, id)
	case "delete":
		res, err = e.svc.Delete(ctx, id)
	}
	if err != nil {
		return err
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s rejected: %s", cmd, res.Message)
	}
	return nil
}

func runRegistry(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("registry: expected 'validate' or 'show'")
	}
	fs := flag.NewFlagSet("registry "+args[0], flag.ContinueOnError)
	path := fs.String("path", "", "Path to a registry file (default: the embedded registry)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	reg := registry.Default()
	if *path != "" {
		var err error
		if reg, err = registry.LoadRegistry(*path); err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	switch args[0] {
	case "validate":
		if err := reg.Validate(); err != nil {
			return fmt.Errorf("registry validation failed: %w", err)
		}
		fmt.Fprintf(out, "Registry validation passed (%d tasks).\n", len(reg.Tasks))
		return nil
	case "show":
		for _, t := range reg.Tasks {
			fmt.Fprintf(out, "%-26s queue=%s attempts=%d backoff=%s/%dms timeout=%s\n",
				t.ID, t.Queue, t.Attempts, t.Backoff.Type, t.Backoff.DelayMs, t.Timeout)
		}
		return nil
	default:
		return fmt.Errorf("registry: unknown subcommand %q", args[0])
	}
}

func parseID(cmd string, args []string) (string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.String("id", "", "Broadcast ID")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *id == "" {
		return "", fmt.Errorf("%s: -id is required", cmd)
	}
	return *id, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func help(out io.Writer) {
	fmt.Fprintln(out, `Usage: broadcastctl <command> [flags]

Commands:
  create        -name -channel -start -tz -contacts file -template-name -template | -file request.json
  add-contacts  -id -file contacts.json
  start         -id     enqueue every contact and move to in_progress
  pause         -id     park the broadcast's queued jobs
  resume        -id     re-enqueue parked jobs
  cancel        -id     stop dispatch, keep history
  delete        -id     remove jobs and every stored row
  stats         -id     per-status contact counts
  contacts      -id -status
  migrate               apply the Postgres schema
  registry validate|show [-path file]`)
}
