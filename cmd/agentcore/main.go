// Command agentcore wires the session engine to stdin/stdout: it loads
// configuration, registers the provider adapters and credential resolver
// the config names, then pumps prompts from the Input Queue into the
// Session Processor and event bus notifications out through the Output
// Emitter, per spec.md §6's stdin/stdout contract and exit-code table.
//
// New entry point — flag parsing and the command-line surface itself are
// explicitly out of scope (spec.md's Non-goals); configuration is read
// entirely from a YAML file path and provider credentials from the
// environment, never from flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/time/rate"

	"github.com/loopwire/agentcore/bus"
	"github.com/loopwire/agentcore/config"
	"github.com/loopwire/agentcore/credential"
	"github.com/loopwire/agentcore/engine"
	"github.com/loopwire/agentcore/input"
	"github.com/loopwire/agentcore/output"
	"github.com/loopwire/agentcore/provider"
	"github.com/loopwire/agentcore/provider/anthropic"
	"github.com/loopwire/agentcore/provider/bedrock"
	"github.com/loopwire/agentcore/provider/openai"
	"github.com/loopwire/agentcore/session"
	"github.com/loopwire/agentcore/sse"
	"github.com/loopwire/agentcore/telemetry"
	"github.com/loopwire/agentcore/tool"
	"github.com/loopwire/agentcore/transport"
)

const exitFatal = 1
const exitSignal = 130

func main() {
	os.Exit(run())
}

func run() int {
	logger := telemetry.NewStderrLogger(os.Stderr)

	cfgPath := os.Getenv("AGENTCORE_CONFIG")
	if cfgPath == "" {
		cfgPath = "agentcore.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitFatal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, sessions, bc := wire(ctx, cfg, logger)

	emit := output.New(os.Stdout, os.Stderr, output.Config{
		Dialect: output.Dialect(cfg.Output.Dialect),
		Pretty:  cfg.Output.Pretty,
	})
	emit.Status("agentcore: ready")

	prompts := make(chan input.Prompt)
	reader := input.New(os.Stdin, input.Config{
		Mode:           inputMode(cfg),
		CoalesceWindow: cfg.Input.CoalesceWindow(),
	})
	readErr := make(chan error, 1)
	go func() {
		err := reader.Run(ctx, prompts)
		if err != nil && ctx.Err() == nil {
			emit.Status(fmt.Sprintf("agentcore: stdin read error: %v", err))
		}
		readErr <- err
	}()

	exitCode := 0
	sess := sessions.Create("", "", "")

	for {
		select {
		case <-ctx.Done():
			emit.Status("agentcore: interrupted")
			return exitSignal

		case p, ok := <-prompts:
			if !ok {
				// Every turn ran to idle before the next prompt was read,
				// so EOF leaves nothing more to emit.
				if err := <-readErr; err != nil && ctx.Err() == nil {
					exitCode = exitFatal
				}
				return exitCode
			}

			sub := bc.Subscribe(bus.BySession(sess.ID))
			done := make(chan error, 1)
			go func() { done <- emit.Run(ctx, sub) }()

			if err := e.Run(ctx, sess.ID, p.Text); err != nil {
				logger.Error(ctx, "agentcore: run failed", "error", err)
			}
			if err := <-done; err != nil && ctx.Err() == nil {
				exitCode = exitFatal
			}
			sub.Unsubscribe()
		}
	}
}

func inputMode(cfg *config.Config) input.Mode {
	if cfg.Input.Literal {
		return input.ModeLiteral
	}
	return input.ModeCoalesce
}

// wire constructs the engine and its collaborators from the loaded config.
func wire(ctx context.Context, cfg *config.Config, logger telemetry.Logger) (*engine.Engine, *session.Store, *bus.Bus) {
	b := bus.New()
	sessions := session.NewStore(b)
	tools := tool.NewRegistry()

	var limiter *rate.Limiter
	if cfg.Retry.RequestsPerSecond > 0 {
		burst := cfg.Retry.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Retry.RequestsPerSecond), burst)
	}

	t := transport.New(nil, transport.Config{
		RetryBudget:    cfg.Retry.RetryBudget(),
		MaxSingleDelay: cfg.Retry.MaxSingleDelay(),
		MinInterval:    cfg.Retry.MinInterval(),
		BaseBackoff:    cfg.Retry.BaseBackoff(),
		RateLimit:      limiter,
		Logger:         logger,
	})

	registry := provider.NewRegistry(cfg, logger)
	eng := engine.New(engine.Options{
		Sessions:  sessions,
		Bus:       b,
		Registry:  registry,
		Transport: t,
		Tools:     tools,
		Logger:    logger,
	})

	cred := buildCredentialResolver(cfg)
	sseCfg := sseConfig(cfg, logger)

	for name, p := range cfg.Providers {
		switch p.Kind {
		case "anthropic":
			eng.RegisterAdapter(anthropic.New(anthropic.Options{
				BaseURL:    p.BaseURL,
				Credential: cred,
				SSE:        sseCfg,
				Logger:     logger,
			}))
		case "openai":
			eng.RegisterAdapter(openai.New(openai.Options{
				BaseURL:    p.BaseURL,
				Credential: cred,
				SSE:        sseCfg,
				Logger:     logger,
			}))
		case "bedrock":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.Region))
			if err != nil {
				logger.Error(ctx, "agentcore: bedrock config load failed", "provider", name, "error", err)
				continue
			}
			eng.RegisterAdapter(bedrock.New(bedrock.Options{
				Runtime: bedrockruntime.NewFromConfig(awsCfg),
				Logger:  logger,
			}))
		default:
			logger.Warn(ctx, "agentcore: unknown provider kind", "provider", name, "kind", p.Kind)
		}
	}

	return eng, sessions, b
}

func sseConfig(cfg *config.Config, logger telemetry.Logger) sse.Config {
	return sse.Config{
		ChunkTimeout: cfg.Stream.ChunkTimeout(),
		StepTimeout:  cfg.Stream.StepTimeout(),
		Logger:       logger,
	}
}

// buildCredentialResolver selects a concrete credential.Resolver from
// environment variables per provider kind. Disk-backed credential storage
// is explicitly out of scope (spec.md's Non-goals); API keys are read
// directly from the process environment, the simplest external
// collaborator satisfying credential.Resolver.
func buildCredentialResolver(cfg *config.Config) credential.Resolver {
	keys := make(map[string]string, len(cfg.Providers))
	headers := make(map[string]string, len(cfg.Providers))
	baseURLs := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		switch p.Kind {
		case "anthropic":
			keys[name] = os.Getenv("ANTHROPIC_API_KEY")
			headers[name] = "x-api-key"
		case "openai":
			keys[name] = os.Getenv("OPENAI_API_KEY")
			headers[name] = "Authorization"
		}
		baseURLs[name] = p.BaseURL
	}
	return credential.NewStaticResolver(keys, headers, baseURLs)
}
