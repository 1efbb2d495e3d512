package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acteon/acteon/internal/action"
	"github.com/acteon/acteon/internal/bridge"
	"github.com/acteon/acteon/internal/cascade"
	"github.com/acteon/acteon/internal/config"
	"github.com/acteon/acteon/internal/executor"
	"github.com/acteon/acteon/internal/health"
	"github.com/acteon/acteon/internal/invocation"
	"github.com/acteon/acteon/internal/luaproc"
	"github.com/acteon/acteon/internal/metrics"
	"github.com/acteon/acteon/internal/scheduler"
	"github.com/acteon/acteon/internal/state/store"
	"github.com/acteon/acteon/internal/version"
)

// entryAction is the action run for each user utterance in serve mode.
const entryAction = "assistant"

func main() {
	configPath := flag.String("config", "", "path to config file")
	runAction := flag.String("run", "", "execute one action and exit")
	runParams := flag.String("params", "{}", "JSON parameters for -run")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: acteon -config <path> [-run <action> -params <json>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *runAction, *runParams); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger, runAction, runParams string) error {
	var db *store.DB
	if cfg.DataDir != "" {
		var err error
		db, err = store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	healthStore, memCounter, err := buildHealth(cfg, db, logger)
	if err != nil {
		return err
	}

	mx := metrics.New(healthStore)

	cascadeCfg := cfg.Cascade
	if db != nil {
		if persisted, err := db.LoadCascade(); err == nil && len(persisted.Tiers) > 0 {
			cascadeCfg = persisted
		}
	}
	endpoints := cfg.EndpointMap()
	if db != nil {
		// Stored credentials fill endpoints the config leaves blank.
		for id, ep := range endpoints {
			if ep.Credential == "" {
				if cred, _ := db.Credential(id); cred != "" {
					ep.Credential = cred
					endpoints[id] = ep
				}
			}
		}
	}

	llm := cascade.New(endpoints, cascadeCfg, healthStore, logger,
		cascade.WithTimeout(cfg.Timeouts.LLMTimeout(cascade.DefaultLLMTimeout)),
		cascade.WithObserver(mx),
	)

	br := bridge.New(logger)

	actions, err := loadActions(cfg, br)
	if err != nil {
		return err
	}
	registry, err := action.Build(actions)
	if err != nil {
		return err
	}
	logger.Info("registry built", zap.Int("actions", registry.Len()))

	execOpts := []executor.Option{
		executor.WithStepTimeout(cfg.Timeouts.StepTimeout(executor.DefaultStepTimeout)),
	}
	if cfg.Bridge.Listen != "" {
		execOpts = append(execOpts, executor.WithStateProvider(br))
	}
	exec := executor.New(registry, llm, logger, execOpts...)

	if runAction != "" {
		return runOnce(exec, logger, runAction, runParams)
	}

	if cfg.Metrics.Listen != "" {
		go serveHTTP(cfg.Metrics.Listen, "/metrics", mx.Handler(), logger)
	}
	if cfg.Bridge.Listen != "" {
		go serveHTTP(cfg.Bridge.Listen, "/bridge", br.Handler(), logger)
	}
	if cfg.Verify.Schedule != "" {
		var persist scheduler.Persister
		if db != nil {
			persist = db
		}
		sched := scheduler.New(llm, persist, logger)
		if err := sched.Start(cfg.Verify.Schedule); err != nil {
			return err
		}
		defer sched.Stop()
	}

	serveStdin(exec, registry, logger)

	if db != nil && memCounter != nil {
		if err := db.SaveHealthSnapshot(memCounter); err != nil {
			logger.Warn("saving health snapshot failed", zap.Error(err))
		}
	}
	return nil
}

func buildHealth(cfg *config.Config, db *store.DB, logger *zap.Logger) (health.Store, *health.Counter, error) {
	if cfg.Health.Backend == "redis" {
		if cfg.Health.RedisAddr == "" {
			return nil, nil, fmt.Errorf("health backend redis requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Health.RedisAddr})
		return health.NewRedisStore(client, logger), nil, nil
	}

	counter := health.NewCounter()
	if db != nil {
		if err := db.LoadHealthSnapshot(counter); err != nil {
			logger.Warn("loading health snapshot failed", zap.Error(err))
		}
	}
	return counter, counter, nil
}

func loadActions(cfg *config.Config, br *bridge.Bridge) ([]action.Action, error) {
	var actions []action.Action
	if cfg.ActionsDir != "" {
		loaded, err := action.LoadDir(cfg.ActionsDir, action.LoaderOptions{LuaProc: luaproc.Proc})
		if err != nil {
			return nil, err
		}
		actions = append(actions, loaded...)
	}
	if cfg.Bridge.Listen != "" {
		actions = append(actions, bridgeActions(br)...)
	}
	return actions, nil
}

func serveHTTP(listen, path string, handler http.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	logger.Info("listening", zap.String("addr", listen), zap.String("path", path))
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("listener failed", zap.String("addr", listen), zap.Error(err))
	}
}

func runOnce(exec *executor.Executor, logger *zap.Logger, name, paramsJSON string) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("parsing -params: %w", err)
	}

	ctx := invocation.WithID(context.Background(), uuid.NewString())
	result, err := exec.Execute(ctx, name, params)
	if err != nil {
		return err
	}
	return printResult(result)
}

// serveStdin reads one utterance per line and routes it through the entry
// action until EOF or an interrupt.
func serveStdin(exec *executor.Executor, registry *action.Registry, logger *zap.Logger) {
	if _, ok := registry.Get(entryAction); !ok {
		logger.Warn("no entry action registered, serve mode idle",
			zap.String("entry_action", entryAction))
		waitForSignal()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		invCtx := invocation.WithID(ctx, uuid.NewString())
		result, err := exec.Execute(invCtx, entryAction, map[string]any{"user_message": line})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := printResult(result); err != nil {
			logger.Warn("printing result failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

func printResult(result any) error {
	if s, ok := result.(string); ok {
		fmt.Println(s)
		return nil
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
