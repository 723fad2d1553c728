package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"osrsbingo/internal/app"
	"osrsbingo/internal/config"
	"osrsbingo/internal/db"
	"osrsbingo/internal/domain"
	"osrsbingo/internal/engine"
	"osrsbingo/internal/events"
	"osrsbingo/internal/migrate"
	"osrsbingo/internal/notify"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
	"osrsbingo/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bingo",
	Short: "OSRS clan bingo engine",
	Long: `bingo runs clan bingo competitions for Old School RuneScape.
- Competition: teams, a board layout of tiles, and the effects in play; imported from a YAML definition.
- Tiles: requirements (item drops, pets, speedruns, experience, ...) that gameplay events fill in.
- Effects: point bonuses, steals, shields, locks; granted on tile or line completion and activated by teams.
- Event log: every state change, view with 'bingo log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BINGO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin:cli", "actor identifier")
	rootCmd.PersistentFlags().String("competition", "", "competition id (defaults to the only one)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "development logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("competition", rootCmd.PersistentFlags().Lookup("competition"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(competitionCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(tileCmd())
	rootCmd.AddCommand(effectCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bingo.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect engine config",
		Long:  "Config is bingo.yml in the workspace: retry limits, tier award and attribution policies, notifications, and server settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate bingo.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func competitionCmd() *cobra.Command {
	c := &cobra.Command{Use: "competition", Short: "Manage competitions"}
	c.AddCommand(competitionImportCmd())
	c.AddCommand(competitionListCmd())
	return c
}

func competitionImportCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a competition definition and generate team boards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := app.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("%s: %d teams, %d tiles, %d effects OK\n", def.ID, len(def.Teams), len(def.Tiles), len(def.Effects))
				return nil
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				comp, err := app.Import(ctx, r, events.Writer{}, def, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(comp)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without importing")
	return cmd
}

func competitionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List competitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCompetitions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Board", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, fmt.Sprintf("%dx%d", c.Rows, c.Cols), c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventCmd() *cobra.Command {
	e := &cobra.Command{Use: "event", Short: "Gameplay events"}
	e.AddCommand(eventIngestCmd())
	return e
}

func eventIngestCmd() *cobra.Command {
	var ev domain.GameEvent
	var kind, payload string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Apply one gameplay event",
		Example: `  bingo event ingest --team red --kind ITEM_DROP --account 7 \
    --payload '{"items":[{"itemId":20997,"itemName":"Twisted bow","quantity":1}]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be JSON")
			}
			ev.Kind = requirement.Kind(strings.ToUpper(kind))
			ev.Payload = json.RawMessage(payload)
			if ev.Timestamp == "" {
				ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ProcessEvent(ctx, ev)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "Tile", "Progress", "Completed", "Points", "Duplicate"})
				for _, t := range res.Tiles {
					tw.AppendRow(table.Row{t.Position, t.TileID, t.ProgressValue, t.IsCompleted, t.PointsAwarded, t.Duplicate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ev.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&kind, "kind", "", "event kind (ITEM_DROP, PET, VALUE_DROP, SPEEDRUN, EXPERIENCE, BA_GAMBLES)")
	cmd.Flags().Int64Var(&ev.AccountID, "account", 0, "osrs account id")
	cmd.Flags().StringVar(&ev.DedupKey, "dedup-key", "", "idempotency key (derived from content when empty)")
	cmd.Flags().StringVar(&ev.BoardTileID, "board-tile", "", "apply to this board tile only")
	cmd.Flags().StringVar(&ev.Timestamp, "ts", "", "event time (RFC3339)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload JSON")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func tileCmd() *cobra.Command {
	t := &cobra.Command{Use: "tile", Short: "Board tiles"}
	t.AddCommand(&cobra.Command{
		Use:   "complete <board_tile_id>",
		Short: "Complete a board tile manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ForceCompleteTile(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	})
	return t
}

func effectCmd() *cobra.Command {
	e := &cobra.Command{
		Use:   "effect",
		Short: "Effect grants",
		Long:  "Grants are effects held by a team. Manual grants are activated; reactive ones (shield, reflect) fire when an attack arrives.",
	}
	e.AddCommand(effectDefsCmd())
	e.AddCommand(effectGrantCmd())
	e.AddCommand(effectListCmd())
	e.AddCommand(effectShowCmd())
	e.AddCommand(effectActivateCmd())
	e.AddCommand(effectIncomingCmd())
	e.AddCommand(effectSweepCmd())
	return e
}

func effectDefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defs",
		Short: "List the competition's effect definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				comp, err := app.ResolveCompetition(ctx, r, viper.GetString("competition"))
				if err != nil {
					return err
				}
				defs, err := r.ListEffects(ctx, comp.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Value", "Trigger", "Duration"})
				for _, d := range defs {
					duration := ""
					if d.Duration > 0 {
						duration = d.Duration.String()
					}
					tw.AppendRow(table.Row{d.ID, d.Name, d.Type, d.Value, d.Trigger, duration})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func effectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <grant_id>",
		Short: "Show one grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Grant(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
}

func effectGrantCmd() *cobra.Command {
	var req engine.GrantRequest
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant an effect to a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GrantEffect(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&req.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&req.EffectID, "effect", "", "effect id")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "idempotency reference")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("effect")
	return cmd
}

func effectListCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a team's grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				grants, err := e.TeamGrants(ctx, teamID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(grants)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Effect", "Type", "Trigger", "State", "Expires"})
				for _, g := range grants {
					expires := ""
					if g.ExpiresAt != nil {
						expires = *g.ExpiresAt
					}
					tw.AppendRow(table.Row{g.ID, g.Effect.Name, g.Effect.Type, g.Trigger, g.State, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func effectActivateCmd() *cobra.Command {
	var req engine.ActivateRequest
	var position int
	cmd := &cobra.Command{
		Use:   "activate <grant_id>",
		Short: "Activate a manual grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.GrantID = args[0]
			req.TargetPosition = optionalPosition(position)
			req.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ActivateGrant(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&req.ActingTeamID, "team", "", "acting team id")
	cmd.Flags().StringVar(&req.TargetTeamID, "target", "", "target team id")
	cmd.Flags().IntVar(&position, "position", -1, "target board position")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func effectIncomingCmd() *cobra.Command {
	var req engine.IncomingRequest
	var position int
	cmd := &cobra.Command{
		Use:   "incoming",
		Short: "Resolve an offensive effect against a team's defenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TargetPosition = optionalPosition(position)
			req.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ResolveIncoming(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&req.EffectID, "effect", "", "offensive effect id")
	cmd.Flags().StringVar(&req.SourceTeamID, "source", "", "attacking team id")
	cmd.Flags().StringVar(&req.TargetTeamID, "target", "", "defending team id")
	cmd.Flags().IntVar(&position, "position", -1, "target board position")
	_ = cmd.MarkFlagRequired("effect")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func effectSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire idle grants past their expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepExpired(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"expired": n})
				}
				fmt.Printf("expired %d grants\n", n)
				return nil
			})
		},
	}
}

func boardCmd() *cobra.Command {
	var teamID string
	b := &cobra.Command{Use: "board", Short: "Team boards"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a team's board with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.Board(ctx, teamID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("%s (%s) score %d\n", view.Team.Name, view.Team.ID, view.Team.Score)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "Board tile", "Tile", "Points", "Progress", "Done", "Locked"})
				for _, tv := range view.Tiles {
					progress := ""
					if tv.Progress != nil {
						progress = requirement.Summary(tv.Tile.Requirements, tv.Progress.Progress)
					}
					tw.AppendRow(table.Row{tv.Position, tv.ID, tv.Tile.Name, tv.Tile.Points, progress, tv.IsCompleted, tv.Meta.Locked})
				}
				tw.Render()
				return nil
			})
		},
	}
	show.Flags().StringVar(&teamID, "team", "", "team id")
	_ = show.MarkFlagRequired("team")
	b.AddCommand(show)
	return b
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Team standings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comp, err := app.ResolveCompetition(ctx, e.Repo, viper.GetString("competition"))
				if err != nil {
					return err
				}
				entries, err := e.Leaderboard(ctx, comp.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Team", "Score", "Tiles"})
				for _, l := range entries {
					tw.AppendRow(table.Row{l.Rank, l.TeamName, l.Score, l.Completed})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: imports, progress, completions, scores, grants and locks.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				comp, err := app.ResolveCompetition(ctx, r, viper.GetString("competition"))
				if err != nil {
					return err
				}
				items, err := r.LatestEvents(ctx, n, comp.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, teamID string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token (needs BINGO_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			tok, err := server.SignToken(secret, subject, roles, teamID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id carried by the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (admin, ingest, player); repeatable")
	cmd.Flags().StringVar(&teamID, "team", "", "bind the token to a team")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime (0 never expires)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), AllowDevLogin: devLogin}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BINGO_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Log: e.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Log.Info("serving bingo API", zap.String("addr", addr), zap.String("base_path", basePath), zap.Bool("dev_login", devLogin))
				fmt.Printf("Serving bingo API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose /auth/dev/login (never in production)")
	return cmd
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newNotifier(cfg *config.Config, log *zap.Logger) notify.Notifier {
	d := cfg.Notifications.Discord
	if d.WebhookURL == "" {
		return notify.Nop{}
	}
	timeout := time.Duration(d.TimeoutSeconds) * time.Second
	return notify.NewDispatcher(notify.NewDiscord(d.WebhookURL, d.Username, timeout, log), cfg.Notifications.QueueSize, timeout, log)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	n := newNotifier(cfg, log)
	if d, ok := n.(*notify.Dispatcher); ok {
		defer d.Close()
	}
	e := engine.New(conn, cfg, n, log)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalPosition(p int) *int {
	if p < 0 {
		return nil
	}
	return &p
}
