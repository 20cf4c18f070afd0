package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/baduk-coach/internal/coachclient"
	"github.com/park285/baduk-coach/pkg/coachdto"
)

func main() {
	baseURL := flag.String("url", envOr("COACH_URL", "http://127.0.0.1:8080"), "coach server base URL")
	timeout := flag.Duration("timeout", 5*time.Minute, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: coachctl [flags] start|reset|shutdown|config|networks|reviews|apply PRESET [HARDWARE] [NETWORK]|play MOVE...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client := coachclient.New(*baseURL, coachclient.WithTimeout(*timeout))
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	args := flag.Args()
	var (
		out any
		err error
	)
	switch args[0] {
	case "start":
		err = client.Start(ctx)
		out = coachdto.StatusResponse{Status: "ok"}
	case "reset":
		err = client.Reset(ctx)
		out = coachdto.StatusResponse{Status: "ok"}
	case "shutdown":
		err = client.Shutdown(ctx)
		out = coachdto.StatusResponse{Status: "ok"}
	case "config":
		out, err = client.Config(ctx)
	case "networks":
		out, err = client.Networks(ctx)
	case "reviews":
		out, err = client.Reviews(ctx, 0)
	case "apply":
		patch := coachdto.ConfigPatch{}
		if len(args) > 1 {
			patch.Preset = args[1]
		}
		if len(args) > 2 {
			patch.Hardware = args[2]
		}
		if len(args) > 3 {
			patch.NetworkFilename = args[3]
		}
		out, err = client.ApplyConfig(ctx, patch)
	case "play":
		for _, mv := range args[1:] {
			ev, perr := client.PlayEval(ctx, mv)
			if perr != nil {
				err = perr
				break
			}
			fmt.Printf("%s %-4s loss=%5.1f pts %5.1f%%  bot=%s  %s\n",
				ev.User.Color, ev.User.Move, ev.Metrics.LossScore, ev.Metrics.LossWinrate*100,
				ev.Bot.BotMove, strings.TrimSpace(ev.Verdict.Text))
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
