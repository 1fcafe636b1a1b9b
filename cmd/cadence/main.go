package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/bot"
	"github.com/cadencebot/cadence/pkg/command"
	"github.com/cadencebot/cadence/pkg/config"
	"github.com/cadencebot/cadence/pkg/logger"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/metrics"
	"github.com/cadencebot/cadence/pkg/template"
)

func main() {
	configPath := flag.String("config", "", "path to cadence.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	b, err := bot.New(cfg, definitions())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.InfoC("main", "shutting down")
	b.Stop()
}

// definitions declares the built-in demo commands. Real deployments
// replace these with their own.
func definitions() []*command.Definition {
	start := time.Now()

	return []*command.Definition{
		{
			Name: "echo",
			Type: command.TypeData,
			Handler: func(ctx context.Context, input *message.Parsed, opts command.HandlerOptions) (interface{}, error) {
				if len(input.Params) == 0 {
					return "echo", nil
				}
				return fmt.Sprintf("%v", input.Params), nil
			},
		},
		{
			Name:     "uptime",
			Type:     command.TypeRecursive,
			HelpText: "uptime [minutes] — report process uptime on a cadence",
			Template: template.MustText("up {{.Uptime}}, {{.Goroutines}} goroutines, {{.AllocMB}} MB"),
			Handler: func(ctx context.Context, input *message.Parsed, opts command.HandlerOptions) (interface{}, error) {
				return metrics.ProcessStats(start), nil
			},
		},
		{
			Name:     "load-alert",
			Type:     command.TypeAlert,
			Algo:     alert.CumulativeDifference,
			HelpText: "load-alert [minutes] [sensitivity] — alert on load swings",
			Template: template.MustText("load moved by {{printf \"%.2f\" .Difference}}"),
			Handler: func(ctx context.Context, input *message.Parsed, opts command.HandlerOptions) (interface{}, error) {
				return metrics.LoadAverage()
			},
		},
		{
			Name:     "schedule",
			Type:     command.TypeSchedule,
			HelpText: "schedule <command> <args> (<cron>) — e.g. schedule uptime (*/15 * * * *)",
		},
		{
			Name:     "kill",
			Type:     command.TypeKill,
			HelpText: "kill <command> [scheduleId] — stop a running task",
		},
	}
}
