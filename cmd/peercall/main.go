// Peercall is the CLI entry point.
//
// Peercall joins a WebRTC video call through a WebSocket signaling endpoint
// and records the first remote video track (and, optionally, the remote
// audio) to disk. With --mode relay it instead runs the two-party signaling
// relay that two peercall instances, or a browser and peercall, can meet on.
//
// It can be launched interactively (no flags, prompts for the URL) or
// non-interactively via CLI flags and an optional YAML config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

// flagValues mirrors the command-line flags. Only flags the user actually set
// override the config file.
type flagValues struct {
	configPath    string
	mode          string
	url           string
	stun          string
	noOffer       bool
	videoOut      string
	audioOut      string
	listen        string
	statsInterval time.Duration
	debug         bool
}

func newFlagSet(v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("peercall", pflag.ContinueOnError)
	fs.StringVarP(&v.configPath, "config", "c", "", "path to a YAML config file (default: $"+config.EnvConfigPath+")")
	fs.StringVar(&v.mode, "mode", "", "what to run: call or relay")
	fs.StringVarP(&v.url, "url", "u", "", "WebSocket signaling URL (call mode)")
	fs.StringVar(&v.stun, "stun", "", "STUN server URL, empty string for host candidates only")
	fs.BoolVar(&v.noOffer, "no-offer", false, "wait for the remote offer instead of offering on connect")
	fs.StringVar(&v.videoOut, "video-out", "", "file receiving the remote video (IVF; H.264 goes to the same name with a .h264 extension)")
	fs.StringVar(&v.audioOut, "audio-out", "", "file receiving the remote audio (Ogg/Opus); audio is dropped when unset")
	fs.StringVar(&v.listen, "listen", "", "listen address (relay mode)")
	fs.DurationVar(&v.statsInterval, "stats-interval", config.DefaultStatsInterval, "throughput report interval; 0 disables it")
	fs.BoolVar(&v.debug, "debug", false, "enable debug logging")
	return fs
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var v flagValues
	fs := newFlagSet(&v)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	cfg, err := config.Load(v.configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	applyFlags(fs, v, &cfg)

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall — v%s", version))
	pterm.Println()

	if shouldPrompt(fs, v) {
		cfg.SignalingURL = askURL()
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	switch cfg.Mode {
	case config.ModeRelay:
		runRelay(ctx, cfg)
	default:
		runCall(ctx, cfg)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runCall executes one call session until the socket closes or Ctrl+C.
func runCall(ctx context.Context, cfg config.Config) {
	opts, err := call.OptionsFromConfig(cfg)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	session := call.New(opts)
	util.LogInfo("call session %s: recording video to %s", session.ID(), cfg.VideoOut)
	if cfg.AudioOut != "" {
		util.LogInfo("call session %s: recording audio to %s", session.ID(), cfg.AudioOut)
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	if err := session.Run(ctx); err != nil {
		util.LogError("call ended with error: %v", err)
		os.Exit(1)
	}

	if session.Display().Source() == nil {
		util.LogWarning("call ended without receiving remote video")
	}
	util.LogSuccess("call closed")
}

// runRelay serves the signaling relay until Ctrl+C.
func runRelay(ctx context.Context, cfg config.Config) {
	relay := signaling.NewRelay()
	addr, err := relay.Start(cfg.RelayListen)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer relay.Close()

	util.LogSuccess("signaling relay listening on ws://%s/", addr)
	<-ctx.Done()
	util.LogInfo("shutting down relay")
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// applyFlags copies every flag the user set onto cfg.
func applyFlags(fs *pflag.FlagSet, v flagValues, cfg *config.Config) {
	if fs.Changed("mode") {
		cfg.Mode = config.Mode(v.mode)
	}
	if fs.Changed("url") {
		cfg.SignalingURL = v.url
	}
	if fs.Changed("stun") {
		cfg.STUNServer = v.stun
	}
	if fs.Changed("no-offer") {
		cfg.OfferOnOpen = !v.noOffer
	}
	if fs.Changed("video-out") {
		cfg.VideoOut = v.videoOut
	}
	if fs.Changed("audio-out") {
		cfg.AudioOut = v.audioOut
	}
	if fs.Changed("listen") {
		cfg.RelayListen = v.listen
	}
	if fs.Changed("stats-interval") {
		cfg.StatsInterval = v.statsInterval
	}
	if fs.Changed("debug") {
		cfg.Debug = v.debug
	}
}

// shouldPrompt reports whether the signaling URL should be asked for
// interactively: no flags, no config file, and a terminal on stdin.
func shouldPrompt(fs *pflag.FlagSet, v flagValues) bool {
	if fs.NFlag() > 0 || v.configPath != "" || os.Getenv(config.EnvConfigPath) != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// askURL prompts the user for a valid WebSocket URL until one is entered. An
// empty answer keeps the default endpoint.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("WebSocket URL (Enter for %s)", config.DefaultSignalingURL)).
			Show()

		if raw == "" {
			pterm.Println()
			return config.DefaultSignalingURL
		}

		wsURL, err := config.NormalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
