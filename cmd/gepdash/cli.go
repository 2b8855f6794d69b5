package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/gepdash/internal/config"
	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/mcp"
	"github.com/hpungsan/gepdash/internal/repo"
	"github.com/hpungsan/gepdash/internal/session"
	"github.com/hpungsan/gepdash/internal/web"
)

// env carries what every command needs to open a session.
type env struct {
	cfg    *config.Config
	logger *slog.Logger

	// opts are appended to every session; tests inject an HTTP client here
	opts []session.Option
}

// open builds a session from the loaded config and the global flags.
func (e *env) open(c *cli.Context, extra ...session.Option) (*session.Session, error) {
	overlay := &config.Config{BaseURL: c.String("base-url")}
	if c.IsSet("stale-time") {
		overlay.StaleTime = config.Duration(c.Duration("stale-time"))
	}
	cfg := config.Merge(e.cfg, overlay)

	opts := append([]session.Option{
		session.WithLogger(e.logger),
		session.WithUserAgent("gepdash/" + Version),
	}, e.opts...)
	return session.New(cfg, append(opts, extra...)...)
}

// run opens a session, runs fn and always closes the session.
func (e *env) run(fn func(c *cli.Context, s *session.Session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := e.open(c)
		if err != nil {
			return outputError(err)
		}
		defer s.Close()
		return fn(c, s)
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "gepdash",
		Usage:   "Browse and edit genes, capsules and evolution events",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Usage: "Remote service URL (overrides config)"},
			&cli.DurationFlag{Name: "stale-time", Usage: "How long cached results stay fresh"},
		},
		Commands: []*cli.Command{
			genesCmd(e),
			capsulesCmd(e),
			eventsCmd(e),
			dashboardCmd(e),
			serveCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func pagingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "skip", Aliases: []string{"s"}, Usage: "Records to skip"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Page size (default from config)"},
	}
}

func pageParams(c *cli.Context) repo.ListParams {
	return repo.ListParams{Skip: c.Int("skip"), Limit: c.Int("limit")}
}

// requireID returns the first positional argument.
func requireID(c *cli.Context, kind string) (string, error) {
	if c.NArg() == 0 {
		return "", outputError(errors.NewInvalidRequest(kind + " id is required"))
	}
	return c.Args().First(), nil
}

// genesCmd creates the genes command group.
func genesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "genes",
		Usage: "Manage genes",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List genes",
				Flags: append(pagingFlags(),
					&cli.StringFlag{Name: "status", Usage: "Filter by status: draft|validated|deprecated"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					p := pageParams(c)
					p.Status = entity.GeneStatus(c.String("status"))
					genes, err := s.Genes(c.Context, p)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, genes)
				}),
			},
			{
				Name:      "get",
				Usage:     "Get a gene by id",
				ArgsUsage: "<id>",
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "gene")
					if err != nil {
						return err
					}
					gene, err := s.Gene(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, gene)
				}),
			},
			{
				Name:  "create",
				Usage: "Create a gene",
				Flags: append(geneFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Unique gene name"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					in := entity.GeneCreate{
						Name:           c.String("name"),
						Description:    optString(c, "description"),
						Implementation: optString(c, "implementation"),
						PromptTemplate: optString(c, "prompt-template"),
						Status:         optStatus(c),
						SuccessRate:    optFloat(c, "success-rate"),
						ContextTags:    parseTags(c.String("tags")),
					}
					gene, err := s.CreateGene(c.Context, in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, gene)
				}),
			},
			{
				Name:      "update",
				Usage:     "Update the given fields of a gene",
				ArgsUsage: "<id>",
				Flags: append(geneFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New gene name"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "gene")
					if err != nil {
						return err
					}
					in := entity.GeneUpdate{
						Name:           optString(c, "name"),
						Description:    optString(c, "description"),
						Implementation: optString(c, "implementation"),
						PromptTemplate: optString(c, "prompt-template"),
						Status:         optStatus(c),
						SuccessRate:    optFloat(c, "success-rate"),
					}
					if c.IsSet("tags") {
						tags := parseTags(c.String("tags"))
						if tags == nil {
							tags = []string{}
						}
						in.ContextTags = &tags
					}
					gene, err := s.UpdateGene(c.Context, id, in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, gene)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a gene",
				ArgsUsage: "<id>",
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "gene")
					if err != nil {
						return err
					}
					if err := s.DeleteGene(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"deleted": true, "id": id})
				}),
			},
			geneStatusCmd(e, "validate", entity.GeneValidated),
			geneStatusCmd(e, "deprecate", entity.GeneDeprecated),
		},
	}
}

func geneFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Markdown description"},
		&cli.StringFlag{Name: "implementation", Usage: "Implementation source or notes"},
		&cli.StringFlag{Name: "prompt-template", Usage: "Prompt template"},
		&cli.StringFlag{Name: "status", Usage: "Status: draft|validated|deprecated"},
		&cli.Float64Flag{Name: "success-rate", Usage: "Success rate between 0 and 1"},
		&cli.StringFlag{Name: "tags", Aliases: []string{"t"}, Usage: "Comma-separated context tags"},
	}
}

// geneStatusCmd moves a gene to status.
func geneStatusCmd(e *env, name string, status entity.GeneStatus) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("Mark a gene %s", status),
		ArgsUsage: "<id>",
		Action: e.run(func(c *cli.Context, s *session.Session) error {
			id, err := requireID(c, "gene")
			if err != nil {
				return err
			}
			gene, err := s.SetGeneStatus(c.Context, id, status)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, gene)
		}),
	}
}

// capsulesCmd creates the capsules command group.
func capsulesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "capsules",
		Usage: "Manage capsules",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List capsules",
				Flags: pagingFlags(),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					capsules, err := s.Capsules(c.Context, pageParams(c))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, capsules)
				}),
			},
			{
				Name:      "get",
				Usage:     "Get a capsule with its genes resolved",
				ArgsUsage: "<id>",
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "capsule")
					if err != nil {
						return err
					}
					detail, err := s.CapsuleDetail(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, detail)
				}),
			},
			{
				Name:  "create",
				Usage: "Create a capsule",
				Flags: append(capsuleFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Unique capsule name"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					in := entity.CapsuleCreate{
						Name:            c.String("name"),
						Description:     optString(c, "description"),
						InputSchema:     optJSON(c, "input-schema"),
						OutputSchema:    optJSON(c, "output-schema"),
						ExecutionTimeMS: optInt(c, "execution-time-ms"),
						GeneIDs:         parseTags(c.String("genes")),
					}
					capsule, err := s.CreateCapsule(c.Context, in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, capsule)
				}),
			},
			{
				Name:      "update",
				Usage:     "Update the given fields of a capsule",
				ArgsUsage: "<id>",
				Flags: append(capsuleFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New capsule name"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "capsule")
					if err != nil {
						return err
					}
					in := entity.CapsuleUpdate{
						Name:            optString(c, "name"),
						Description:     optString(c, "description"),
						InputSchema:     optJSON(c, "input-schema"),
						OutputSchema:    optJSON(c, "output-schema"),
						ExecutionTimeMS: optInt(c, "execution-time-ms"),
					}
					if c.IsSet("genes") {
						ids := parseTags(c.String("genes"))
						if ids == nil {
							ids = []string{}
						}
						in.GeneIDs = &ids
					}
					capsule, err := s.UpdateCapsule(c.Context, id, in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, capsule)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a capsule and its events",
				ArgsUsage: "<id>",
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "capsule")
					if err != nil {
						return err
					}
					if err := s.DeleteCapsule(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"deleted": true, "id": id})
				}),
			},
		},
	}
}

func capsuleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Markdown description"},
		&cli.StringFlag{Name: "input-schema", Usage: "Input JSON schema document"},
		&cli.StringFlag{Name: "output-schema", Usage: "Output JSON schema document"},
		&cli.IntFlag{Name: "execution-time-ms", Usage: "Typical execution time in milliseconds"},
		&cli.StringFlag{Name: "genes", Aliases: []string{"g"}, Usage: "Comma-separated gene ids, in order"},
	}
}

// eventsCmd creates the events command group.
func eventsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Browse and record evolution events",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List events",
				Flags: append(pagingFlags(),
					&cli.StringFlag{Name: "type", Usage: "Filter by event type"},
					&cli.StringFlag{Name: "capsule", Aliases: []string{"c"}, Usage: "Filter by capsule id"},
				),
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					p := pageParams(c)
					p.EventType = entity.EventType(c.String("type"))
					p.CapsuleID = c.String("capsule")
					events, err := s.Events(c.Context, p)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, events)
				}),
			},
			{
				Name:      "get",
				Usage:     "Get an event by id",
				ArgsUsage: "<id>",
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					id, err := requireID(c, "event")
					if err != nil {
						return err
					}
					event, err := s.Event(c.Context, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, event)
				}),
			},
			{
				Name:  "create",
				Usage: "Record an event",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Required: true, Usage: "Event type: " + joinTypes()},
					&cli.StringFlag{Name: "capsule", Aliases: []string{"c"}, Usage: "Capsule id"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "What happened"},
					&cli.StringFlag{Name: "payload", Usage: "JSON payload document"},
				},
				Action: e.run(func(c *cli.Context, s *session.Session) error {
					in := entity.EventCreate{
						EventType:   entity.EventType(c.String("type")),
						CapsuleID:   optString(c, "capsule"),
						Description: optString(c, "description"),
						Payload:     optJSON(c, "payload"),
					}
					event, err := s.CreateEvent(c.Context, in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, event)
				}),
			},
		},
	}
}

// dashboardCmd prints summary statistics.
func dashboardCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show gene, capsule and event counts with the newest events",
		Action: e.run(func(c *cli.Context, s *session.Session) error {
			stats, err := s.Dashboard(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, stats)
		}),
	}
}

// serveCmd runs the HTML dashboard.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTML dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			s, err := e.open(c, session.WithRegisterer(reg))
			if err != nil {
				return outputError(err)
			}
			defer s.Close()

			srv := web.NewServer(s, web.Options{
				Version:  Version,
				Bind:     c.String("bind"),
				Port:     c.Int("port"),
				Gatherer: reg,
				Logger:   e.logger,
			})
			return web.Run(srv, e.logger)
		},
	}
}

// mcpCmd runs the MCP tool server on stdio.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: e.run(func(c *cli.Context, s *session.Session) error {
			if unknown := mcp.ValidateDisabledTools(e.cfg.DisabledTools); len(unknown) > 0 {
				e.logger.Warn("ignoring unknown disabled_tools", "tools", unknown)
			}
			return mcp.Run(s, e.cfg, Version)
		}),
	}
}

// Helper functions

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if appErr := errors.As(err); appErr != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseTags splits a comma-separated string into a slice of values.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func optString(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

func optFloat(c *cli.Context, name string) *float64 {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Float64(name)
	return &v
}

func optInt(c *cli.Context, name string) *int {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Int(name)
	return &v
}

func optStatus(c *cli.Context) *entity.GeneStatus {
	if !c.IsSet("status") {
		return nil
	}
	v := entity.GeneStatus(c.String("status"))
	return &v
}

// optJSON returns the flag as a raw document. Syntax is checked by the
// entity validators so the error carries the field name.
func optJSON(c *cli.Context, name string) json.RawMessage {
	if !c.IsSet(name) {
		return nil
	}
	return json.RawMessage(c.String(name))
}

func joinTypes() string {
	names := make([]string, len(entity.EventTypes))
	for i, t := range entity.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, "|")
}
