package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
)

type CLI struct {
	Config    string                   `help:"Path to config.yaml (default ./config.yaml if present)." type:"path" env:"WEATHERLANDING_CONFIG"`
	EnvFile   kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default=.env,help='Path to .env file with COORDINATES_KEY and WEATHER_KEY.'"`
	LogLevel  string                   `help:"Override log.level (debug, info, warn, error)."`
	LogFormat string                   `help:"Override log.format (console, json)."`

	Run   RunCmd   `cmd:"" help:"Run the pipeline once, retrying and notifying on failure."`
	Serve ServeCmd `cmd:"" help:"Run the pipeline on its cron schedule and serve ops endpoints."`
	Runs  RunsCmd  `cmd:"" help:"Print recent audited runs."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("weatherlanding"),
		kong.Description("Lands current weather and air quality readings in object storage."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli)
	cancel()
	if err != nil {
		kctx.Errorf("%v", err)
		os.Exit(1)
	}
}
