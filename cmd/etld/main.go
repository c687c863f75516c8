package main

import (
	"flag"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (optional; env vars can stand alone)")
	onceFlag := flag.Bool("once", false, "run a single sync cycle and exit")
	intervalFlag := flag.Int("interval", 0, "cycle interval in seconds (overrides config)")
	flag.Parse()

	// A missing .env is fine; env overrides are optional.
	_ = godotenv.Load()

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath:      *configFlag,
			RunOnce:         *onceFlag,
			IntervalSeconds: *intervalFlag,
		}),
	)

	app.Run()
}
