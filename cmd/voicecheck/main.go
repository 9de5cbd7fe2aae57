// Command voicecheck runs batch files of test goals against remote voice and
// chat agents and reports one result per batch.
//
//	voicecheck -config config.yaml -out results/ batches/returns.yaml batches/billing.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicecheck/internal/analyzer"
	"github.com/MrWong99/voicecheck/internal/caller"
	"github.com/MrWong99/voicecheck/internal/config"
	"github.com/MrWong99/voicecheck/internal/executor"
	"github.com/MrWong99/voicecheck/internal/health"
	"github.com/MrWong99/voicecheck/internal/observe"
	"github.com/MrWong99/voicecheck/internal/resilience"
	"github.com/MrWong99/voicecheck/internal/router"
	"github.com/MrWong99/voicecheck/pkg/platform"
	elplatform "github.com/MrWong99/voicecheck/pkg/platform/elevenlabs"
	"github.com/MrWong99/voicecheck/pkg/platform/retell"
	"github.com/MrWong99/voicecheck/pkg/platform/vapi"
	"github.com/MrWong99/voicecheck/pkg/provider/llm"
	"github.com/MrWong99/voicecheck/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voicecheck/pkg/provider/llm/openai"
	"github.com/MrWong99/voicecheck/pkg/provider/stt"
	"github.com/MrWong99/voicecheck/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicecheck/pkg/provider/tts"
	"github.com/MrWong99/voicecheck/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/voicecheck/pkg/provider/tts/openai"
	"github.com/MrWong99/voicecheck/pkg/telephony/twilio"
	"github.com/MrWong99/voicecheck/pkg/transport/simulated"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK       = 0
	exitSetup    = 1
	exitFailures = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	outDir := flag.String("out", "", "directory for result JSON and recordings (default: JSON to stdout)")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and health probes on this address (overrides server.metrics_addr)")
	watch := flag.Bool("watch", false, "reload the config between batches when the file changes")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: voicecheck [flags] batch.yaml [batch.yaml ...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	batchFiles := flag.Args()
	if len(batchFiles) == 0 {
		flag.Usage()
		return exitSetup
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecheck: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecheck: %v\n", err)
		}
		return exitSetup
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	// Batches are validated up front so a typo in the last file does not
	// surface after the first ones already placed calls.
	batches := make([]*config.Batch, 0, len(batchFiles))
	for _, path := range batchFiles {
		b, err := config.LoadBatch(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicecheck: %v\n", err)
			return exitSetup
		}
		batches = append(batches, b)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicecheck starting",
		"version", version,
		"config", *configPath,
		"batches", len(batches),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecheck",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitSetup
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return exitSetup
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	hc := observe.HTTPClient(metrics, 60*time.Second)
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, hc)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitSetup
	}

	// ── Platforms and router ──────────────────────────────────────────────────
	platforms, err := buildPlatforms(cfg, providers, hc)
	if err != nil {
		slog.Error("failed to register platforms", "err", err)
		return exitSetup
	}

	routerOpts := []router.Option{router.WithMetrics(metrics)}
	if providers.LLM != nil {
		routerOpts = append(routerOpts, router.WithSimulator(providers.LLM, simulated.WithTemperature(0.4)))
	}
	if tw := cfg.Telephony.Twilio; tw.Enabled() {
		routerOpts = append(routerOpts, router.WithPhone(twilio.New(tw.AccountSID, tw.AuthToken, tw.FromNumber,
			twilio.WithPollInterval(tw.PollInterval),
			twilio.WithSettleDelay(tw.SettleDelay),
			twilio.WithCallTimeout(tw.CallTimeout),
			twilio.WithGreetingPause(tw.GreetingPause),
			twilio.WithVoice(tw.Voice),
		)))
	}
	rt := router.New(platforms, routerOpts...)

	// ── Metrics and health endpoints (optional) ───────────────────────────────
	progress := health.NewProgress(len(batches))
	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv := newMetricsServer(addr, tel, progress, platforms, providers)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "addr", addr, "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	if *watch {
		w, err := config.NewWatcher(ctx, *configPath,
			func(_, new *config.Config, d config.ConfigDiff) {
				applyReload(d, &level)
				current.Store(new)
			},
			config.WithNormalize(func(c *config.Config) {
				if *metricsAddr != "" {
					c.Server.MetricsAddr = *metricsAddr
				}
			}),
		)
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return exitSetup
		}
		defer w.Stop()
	}

	printStartupSummary(cfg, platforms, batches)

	// ── Batches ───────────────────────────────────────────────────────────────
	code := exitOK
	for _, b := range batches {
		if ctx.Err() != nil {
			slog.Warn("interrupted; remaining batches skipped")
			return exitFailures
		}
		res, err := runBatch(ctx, current.Load(), rt, providers, metrics, progress, b)
		if err != nil {
			slog.Error("batch failed", "batch_id", b.ID, "err", err)
			code = exitFailures
		}
		if res == nil {
			continue
		}
		if !res.Success {
			code = exitFailures
		}
		if err := writeResult(*outDir, res); err != nil {
			slog.Error("failed to write result", "batch_id", res.BatchID, "err", err)
			code = exitFailures
		}
	}

	slog.Info("all batches finished", "exit_code", code)
	return code
}

// ── Batch execution ───────────────────────────────────────────────────────────

// runBatch builds an executor from cfg and runs one batch. The executor,
// caller and analyzer are rebuilt per batch so reloaded config sections
// apply to the next batch.
func runBatch(
	ctx context.Context,
	cfg *config.Config,
	rt *router.Router,
	ps *providerSet,
	metrics *observe.Metrics,
	progress *health.Progress,
	b *config.Batch,
) (*executor.Result, error) {
	kinds, err := router.ParseKinds(b.TransportPreferences)
	if err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	opts := []executor.Option{
		executor.WithConfig(executorConfig(cfg.Executor)),
		executor.WithMetrics(metrics),
	}
	if ps.STT != nil {
		opts = append(opts, executor.WithSTT(ps.STT))
	}
	if ps.LLM != nil && !cfg.Analyzer.Disabled {
		opts = append(opts, executor.WithAnalyzer(analyzer.New(ps.LLM,
			analyzer.WithConcurrency(cfg.Analyzer.Concurrency),
			analyzer.WithMinMatch(cfg.Analyzer.MinMatch),
			analyzer.WithMetrics(metrics),
		)))
	}
	exec := executor.New(rt, newGenerator(cfg.Caller, ps.LLM, b.ID), opts...)

	ctx, span := observe.StartSpan(ctx, "voicecheck.batch",
		trace.WithAttributes(
			attribute.String("agent.platform", b.Agent.Platform),
			attribute.String("agent.id", b.Agent.AgentID),
			attribute.Int("goals", len(b.Goals)),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	progress.Start(b.ID)
	res, err := exec.Run(ctx, executor.Batch{
		ID: b.ID,
		Target: router.Target{
			Agent:       b.Agent,
			Preferences: kinds,
		},
		Goals: b.Goals,
	})
	if res == nil {
		progress.Finish(b.ID, false, errString(err))
		return nil, err
	}
	progress.Finish(b.ID, res.Success && err == nil, res.Summary())

	log.Info("batch finished",
		"batch_id", res.BatchID,
		"transport", res.Transport,
		"success", res.Success,
		"summary", res.Summary(),
		"correlation_id", observe.CorrelationID(ctx),
	)
	for _, a := range res.Attempts {
		if a.Error != "" || a.Skipped {
			log.Debug("transport attempt", "batch_id", res.BatchID, "transport", a.Transport, "skipped", a.Skipped, "err", a.Error)
		}
	}
	return res, err
}

// newGenerator returns the synthetic caller. LLM mode is the default when an
// LLM is configured. The persona seed falls back to a hash of the batch id so
// reruns of the same batch meet the same caller.
func newGenerator(cfg config.CallerConfig, provider llm.Provider, batchID string) caller.Generator {
	mode := cfg.Mode
	if mode == "" {
		mode = config.CallerScripted
		if provider != nil {
			mode = config.CallerLLM
		}
	}
	if mode == config.CallerScripted || provider == nil {
		return caller.Scripted{}
	}

	seed := cfg.Seed
	if seed == 0 && batchID != "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(batchID))
		seed = h.Sum64()
	}
	opts := []caller.LLMOption{
		caller.WithPersona(cfg.Persona),
		caller.WithSeed(seed),
	}
	if cfg.Temperature > 0 {
		opts = append(opts, caller.WithTemperature(cfg.Temperature))
	}
	return caller.NewLLM(provider, opts...)
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	return executor.Config{
		SettleDelay:       c.SettleDelay,
		GreetingDelay:     c.GreetingDelay,
		ResponseTimeout:   c.ResponseTimeout,
		SessionTimeout:    c.SessionTimeout,
		CloseGrace:        c.CloseGrace,
		KeepaliveInterval: c.KeepaliveInterval,
		MinTurns:          c.MinTurns,
		TurnsPerGoal:      c.TurnsPerGoal,
		VoiceTurnCap:      c.VoiceTurnCap,
		ChatTurnCap:       c.ChatTurnCap,
		MaxTurns:          c.MaxTurns,
		MinLocalTurns:     c.MinLocalTurns,
		CallPause:         c.CallPause,
		Goodbye:           c.Goodbye,
	}
}

// applyReload logs what a config reload changed and applies the log level.
// Executor, caller and analyzer sections take effect with the next batch.
func applyReload(d config.ConfigDiff, level *slog.LevelVar) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if d.ExecutorChanged || d.CallerChanged || d.AnalyzerChanged {
		slog.Info("config changes apply from the next batch",
			"executor", d.ExecutorChanged,
			"caller", d.CallerChanged,
			"analyzer", d.AnalyzerChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ── Output ────────────────────────────────────────────────────────────────────

// writeResult writes res as indented JSON. With an output directory it writes
// <batch>.json and, for streaming runs, the <batch>.wav recording; otherwise
// the JSON goes to stdout.
func writeResult(dir string, res *executor.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if dir == "" {
		_, err := fmt.Fprintln(os.Stdout, string(data))
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, res.BatchID+".json"), data, 0o644); err != nil {
		return err
	}
	if len(res.Audio) > 0 {
		if err := os.WriteFile(filepath.Join(dir, res.BatchID+".wav"), res.Audio, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ── Metrics server ────────────────────────────────────────────────────────────

func newMetricsServer(addr string, tel *observe.Telemetry, progress *health.Progress, platforms *platform.Registry, ps *providerSet) *http.Server {
	hh := health.New(progress,
		health.Checker{Name: "platforms", Check: func(context.Context) error {
			if len(platforms.IDs()) == 0 {
				return errors.New("no platforms registered")
			}
			return nil
		}},
		health.Checker{Name: "caller", Check: func(context.Context) error {
			if ps.LLM == nil {
				return errors.New("no llm configured; scripted caller only")
			}
			return nil
		}},
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Handler())
	hh.Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds the provider instances built from config. Any field may
// be nil when the corresponding provider is not configured.
type providerSet struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Providers that accept an HTTP client get hc.
func registerBuiltinProviders(reg *config.Registry, hc *http.Client) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []oaillm.Option{oaillm.WithHTTPClient(hc)}
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oaitts.Option{oaitts.WithHTTPClient(hc)}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks are grouped behind their primary with per-provider
// circuit breakers, and TTS latency is recorded in m.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*providerSet, error) {
	ps := &providerSet{}
	fbCfg := resilience.FallbackConfig{
		Breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider breaker changed state", "name", name, "from", from.String(), "to", to.String())
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		}),
		OnResult: func(name string, err error) {
			if err != nil {
				slog.Warn("provider failed", "name", name, "err", err)
			}
		},
	}

	var err error
	if ps.LLM, err = buildProvider(reg.CreateLLM, "llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks,
		func(p llm.Provider, name string) fallbackAdder[llm.Provider] {
			return resilience.NewLLMFallback(p, name, fbCfg)
		}); err != nil {
		return nil, err
	}
	if ps.STT, err = buildProvider(reg.CreateSTT, "stt", cfg.Providers.STT, cfg.Providers.STTFallbacks,
		func(p stt.Provider, name string) fallbackAdder[stt.Provider] {
			return resilience.NewSTTFallback(p, name, fbCfg)
		}); err != nil {
		return nil, err
	}
	if ps.TTS, err = buildProvider(reg.CreateTTS, "tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks,
		func(p tts.Provider, name string) fallbackAdder[tts.Provider] {
			return resilience.NewTTSFallback(p, name, fbCfg)
		}); err != nil {
		return nil, err
	}
	if ps.TTS != nil {
		ps.TTS = observe.TimedTTS(ps.TTS, m)
	}
	return ps, nil
}

// fallbackAdder is a provider-typed fallback group that is itself a provider.
type fallbackAdder[T any] interface {
	AddFallback(name string, p T)
}

// buildProvider creates the primary named by entry and, when fallbacks are
// configured, wraps it in a group built by group. A provider name without a
// registered constructor is skipped, not fatal.
func buildProvider[T any](
	create func(config.ProviderEntry) (T, error),
	kind string,
	entry config.ProviderEntry,
	fallbacks []config.ProviderEntry,
	group func(T, string) fallbackAdder[T],
) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not implemented, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	} else if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	if len(fallbacks) == 0 {
		return p, nil
	}

	g := group(p, entry.Name)
	for i, fb := range fallbacks {
		fp, err := create(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not implemented, skipping", "kind", kind+"-fallback", "name", fb.Name)
			continue
		} else if err != nil {
			return zero, fmt.Errorf("create %s fallback %d %q: %w", kind, i, fb.Name, err)
		}
		g.AddFallback(fmt.Sprintf("%s#%d", fb.Name, i+1), fp)
		slog.Info("provider created", "kind", kind+"-fallback", "name", fb.Name)
	}
	return g.(T), nil
}

// buildPlatforms registers a client for every configured platform with a
// built-in adapter. The ElevenLabs voice transport speaks through the
// configured TTS provider. All platform API traffic goes through hc.
func buildPlatforms(cfg *config.Config, ps *providerSet, hc *http.Client) (*platform.Registry, error) {
	reg := platform.NewRegistry()
	for id, entry := range cfg.Platforms {
		var p platform.Platform
		switch id {
		case "vapi":
			opts := []vapi.Option{vapi.WithHTTPClient(hc)}
			if entry.BaseURL != "" {
				opts = append(opts, vapi.WithBaseURL(entry.BaseURL))
			}
			p = vapi.New(entry.APIKey, opts...).Platform()
		case "retell":
			opts := []retell.Option{retell.WithHTTPClient(hc)}
			if entry.BaseURL != "" {
				opts = append(opts, retell.WithBaseURL(entry.BaseURL))
			}
			p = retell.New(entry.APIKey, opts...).Platform()
		case "elevenlabs":
			opts := []elplatform.Option{elplatform.WithHTTPClient(hc)}
			if entry.BaseURL != "" {
				opts = append(opts, elplatform.WithBaseURL(entry.BaseURL))
			}
			if ps.TTS != nil {
				opts = append(opts, elplatform.WithSynthesizer(ps.TTS, types.VoiceProfile{
					ID:       cfg.Caller.VoiceID,
					Provider: cfg.Providers.TTS.Name,
				}))
			}
			if d := cfg.Executor.SettleDelay; d > 0 {
				opts = append(opts, elplatform.WithReplySettle(d))
			}
			p = elplatform.New(entry.APIKey, opts...).Platform()
		default:
			slog.Warn("no adapter for platform; skipping", "platform", id)
			continue
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
		slog.Info("platform registered", "platform", id, "chat", p.HasChat(), "voice", p.HasVoice())
	}
	return reg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, platforms *platform.Registry, batches []*config.Batch) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║       voicecheck — startup summary    ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if n := len(cfg.Providers.LLMFallbacks); n > 0 {
		fmt.Fprintf(os.Stderr, "║  LLM fallbacks   : %-19d ║\n", n)
	}
	fmt.Fprintf(os.Stderr, "║  Platforms       : %-19d ║\n", len(platforms.IDs()))
	if cfg.Telephony.Twilio.Enabled() {
		fmt.Fprintf(os.Stderr, "║  Phone bridge    : %-19s ║\n", "twilio")
	} else {
		fmt.Fprintf(os.Stderr, "║  Phone bridge    : %-19s ║\n", "(disabled)")
	}
	fmt.Fprintf(os.Stderr, "║  Batches         : %-19d ║\n", len(batches))
	if cfg.Server.MetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "║  Metrics addr    : %-19s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
