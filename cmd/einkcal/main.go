package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"einkcal/internal/config"
	appLog "einkcal/internal/log"
	"einkcal/internal/pipeline"
	"einkcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	renderOnly bool
	dump       bool
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	os.Exit(run(parseFlags()))
}

// run starts the service and returns the process exit code.
func run(flags flagConfig) int {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("einkcal starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
		"width", conf.Display.Width,
		"height", conf.Display.Height,
		"once", flags.once,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	renderer := pipeline.New(conf)

	if flags.once {
		if _, err := renderer.Run(ctx, flags.dump); err != nil {
			appLog.Error("render failed", err)
			return 1
		}
		return 0
	}

	// First picture right away; the schedule only keeps it fresh.
	if _, err := renderer.Run(ctx, flags.dump); err != nil {
		appLog.Error("initial render failed", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if _, err := renderer.Run(ctx, flags.dump); err != nil {
			appLog.Error("scheduled render failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		return 1
	}
	c.Start()

	exitCode := 0
	if flags.renderOnly {
		<-ctx.Done()
	} else {
		srv := web.NewServer(conf, renderer, web.WithBattery(pipeline.BatteryReader(conf.Battery)))
		if err := srv.Serve(ctx); err != nil {
			appLog.Error("http server failed", err, "listen", conf.Listen)
			exitCode = 1
		}
	}
	stop()
	<-c.Stop().Done()

	// Let an in-flight render observe the cancellation before exiting.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("einkcal exiting", "code", exitCode)
	return exitCode
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", envOr("EINKCAL_CONFIG", "/etc/einkcal/config.yaml"), "Path to config file")
	flag.StringVar(&cfg.listen, "listen", os.Getenv("EINKCAL_LISTEN"), "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render cycle and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render on schedule without starting the HTTP server")
	flag.BoolVar(&cfg.dump, "dump", false, "Also write the packed 1bpp plane next to the PNG")

	flag.Parse()
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
