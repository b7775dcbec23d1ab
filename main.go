package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"holdtalk/audio"
	"holdtalk/beep"
	"holdtalk/config"
	"holdtalk/doctor"
	"holdtalk/encoder"
	"holdtalk/gesture"
	"holdtalk/hotkey"
	"holdtalk/log"
	"holdtalk/metrics"
	"holdtalk/recorder"
	"holdtalk/session"
	"holdtalk/shutdown"
	"holdtalk/silence"
	"holdtalk/upload"
)

var version = "dev"

var captureConfig = audio.CaptureConfig{
	SampleRate: encoder.SampleRate,
	Channels:   encoder.Channels,
}

// app is one wired pipeline: microphone, recorder, uploader and the
// controller driving them.
type app struct {
	cfg     *config.Config
	src     *audio.Source
	rec     *recorder.Recorder
	client  *upload.Client
	ctrl    *session.Controller
	metrics *metrics.Metrics
	watch   *silence.Watch
}

type appOptions struct {
	factory   audio.ContextFactory // nil means the platform backend
	registry  prometheus.Registerer
	level     func(rms float64)
	isToggle  func() bool
	onSilence func(silence.Event)
	observers []session.Observer
}

func newApp(cfg *config.Config, o appOptions) (*app, error) {
	client, err := upload.New(cfg.APIURL, upload.WithTimeout(cfg.UploadTimeout))
	if err != nil {
		return nil, err
	}

	srcOpts := []audio.SourceOption{audio.WithDevice(cfg.Device)}
	if o.factory != nil {
		srcOpts = append(srcOpts, audio.WithContextFactory(o.factory))
	}
	src := audio.NewSource(captureConfig, srcOpts...)

	watch := silence.NewWatch(o.isToggle, o.onSilence)
	rec := recorder.New(
		recorder.WithFormat(cfg.Format),
		recorder.WithLevel(func(rms float64) {
			watch.Level(rms)
			if o.level != nil {
				o.level(rms)
			}
		}),
	)

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewMetrics(reg)

	opts := []session.Option{
		session.WithObserver(session.Journal{}),
		session.WithObserver(m),
		session.WithObserver(watch),
	}
	for _, obs := range o.observers {
		opts = append(opts, session.WithObserver(obs))
	}

	return &app{
		cfg:     cfg,
		src:     src,
		rec:     rec,
		client:  client,
		ctrl:    session.New(src, rec, client, opts...),
		metrics: m,
		watch:   watch,
	}, nil
}

func (a *app) Close() {
	a.ctrl.Close()
	a.src.Close()
}

// run parses flags, wires everything and returns the process exit code.
func run() int {
	cfg, cfgErr := config.Load()
	if cfg == nil {
		cfg = config.Default()
	}

	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	setupFlag := flag.Bool("setup", false, "Select microphone device and save it to the config file")
	deviceFlag := flag.String("device", cfg.Device, "Use named microphone device")
	formatFlag := flag.String("format", cfg.Format, "Clip format: wav or flac")
	apiFlag := flag.String("api", cfg.APIURL, "API base URL; clips are posted to <api>/speech")
	timeoutFlag := flag.Duration("timeout", cfg.UploadTimeout, "Upload timeout (0 disables)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	testFlag := flag.String("test", "", "Test mode: replay this WAV file as the microphone and read gestures from stdin")
	hybridFlag := flag.Bool("hybrid", cfg.Hybrid, "Enable hybrid tap+hold recording mode")
	longPressFlag := flag.Duration("longpress", cfg.LongPress, "Long-press threshold for PTT vs tap (e.g., 350ms)")
	beepFlag := flag.Bool("beep", cfg.Beep, "Play audio cues")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	metricsFlag := flag.String("metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g., :9100)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("holdtalk %s\n", version)
		return 0
	}

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Error: config: %v\n", cfgErr)
		return 1
	}
	cfg.Device = *deviceFlag
	cfg.Format = *formatFlag
	cfg.APIURL = *apiFlag
	cfg.UploadTimeout = *timeoutFlag
	cfg.Hybrid = *hybridFlag
	cfg.LongPress = *longPressFlag
	cfg.Beep = *beepFlag
	cfg.MetricsAddr = *metricsFlag
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *doctorFlag {
		return doctor.Run(cfg)
	}

	if *setupFlag {
		return runSetup(cfg)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if *testFlag != "" {
		return runTestMode(ctx, cfg, *testFlag, os.Stdin, os.Stdout)
	}
	return runLive(ctx, cfg, *tuiFlag)
}

// runSetup picks a capture device interactively and stores it in the
// config file.
func runSetup(cfg *config.Config) int {
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	dev, err := audio.SelectDevice(actx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	cfg.Device = ""
	if dev != nil {
		cfg.Device = dev.Name
	}

	path := config.Path()
	if err := config.Save(path, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		return 1
	}
	fmt.Printf("Saved %s to %s\n", deviceLineText(cfg.Device), path)
	return 0
}

func runLive(ctx context.Context, cfg *config.Config, withTUI bool) int {
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Printf("Error registering hotkey: %v\n", err)
		return 1
	}
	defer hk.Unregister()

	var (
		input       gesture.Source = gesture.FromHotkey(hk)
		isToggle    func() bool
		resetToggle = func() {}
	)
	if cfg.Hybrid {
		hy := hotkey.NewHybrid(hk, cfg.LongPress)
		input = gesture.FromHybrid(hy)
		isToggle = hy.IsToggle
		resetToggle = hy.Reset
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var player beep.Player = beep.Silent{}
	if cfg.Beep {
		player = beep.NewPlayer()
	}
	cues := beep.New(player)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	observers := []session.Observer{cues}
	var level func(float64)
	if withTUI {
		observers = append(observers, tuiObserver{})
		level = func(rms float64) { tuiSend(AudioLevelMsg{Level: rms}) }
	} else {
		observers = append(observers, &printer{w: os.Stdout}, session.ObserverFuncs{
			OnStatus: func(s session.Status) {
				if s.State == session.Disabled {
					fmt.Fprintln(os.Stderr, "Error: audio capture is unavailable, exiting")
					cancel()
				}
			},
		})
	}

	a, err := newApp(cfg, appOptions{
		registry: reg,
		level:    level,
		isToggle: isToggle,
		onSilence: func(ev silence.Event) {
			switch ev {
			case silence.Warn, silence.Repeat:
				cues.Warn()
			case silence.AutoClose:
				resetToggle()
			}
			if withTUI {
				silenceToTUI(ev)
			}
		},
		observers: observers,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	log.AppStart(version, a.client.Endpoint(), cfg.Format, cfg.Device)

	g, gctx := errgroup.WithContext(ctx)

	if withTUI {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(newTUIModel(a.client.Endpoint(), cfg.Format, cfg.Device, cfg.Hybrid))
		p := tuiProgram
		tuiMu.Unlock()

		g.Go(func() error {
			_, err := p.Run()
			cancel()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			p.Quit()
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.MetricsAddr, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return gesture.Pump(gctx, a.ctrl, input, a.watch)
	})

	err = g.Wait()
	a.ctrl.Close()
	log.AppEnd(a.ctrl.Finished())
	if err != nil {
		log.Errorf("exiting: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
