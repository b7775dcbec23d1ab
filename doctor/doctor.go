package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"holdtalk/audio"
	"holdtalk/config"
	"holdtalk/encoder"
	"holdtalk/hotkey"
	"holdtalk/recorder"
	"holdtalk/shutdown"
	"holdtalk/upload"
)

const (
	hotkeyTimeout = 10 * time.Second
	recordFor     = 3 * time.Second
)

type acquirer interface {
	Acquire(ctx context.Context) (audio.CaptureDevice, error)
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Config) int {
	resetTerminal()
	ctx := setupInterruptHandler()

	out := os.Stdout
	fmt.Fprintln(out, "holdtalk doctor - interactive system diagnostics")
	fmt.Fprintln(out, "================================================")

	allPass := true

	fmt.Fprintln(out)
	fmt.Fprintln(out, "[1/3] Hotkey detection")
	if msg, err := hotkey.Diagnose(); err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		allPass = false
	} else {
		fmt.Fprintf(out, "  %s\n", msg)
		allPass = checkHotkey(out, hotkey.New(), hotkeyTimeout)
		resetTerminal()
	}

	var clip encoder.Clip
	if allPass {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[2/3] Microphone")
		fmt.Fprint(out, "Press Enter and speak for 3 seconds...")
		bufio.NewReader(os.Stdin).ReadString('\n')

		src := audio.NewSource(audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		}, audio.WithDevice(cfg.Device))
		defer src.Close()

		var ok bool
		clip, ok = checkMicrophone(ctx, out, src, cfg.Format, recordFor)
		allPass = ok
	}

	if allPass {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[3/3] Upload endpoint")
		client, err := upload.New(cfg.APIURL, upload.WithTimeout(cfg.UploadTimeout))
		if err != nil {
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			allPass = false
		} else {
			allPass = checkEndpoint(ctx, out, client, clip)
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

// setupInterruptHandler exits on the first termination signal, even while
// a prompt is blocked reading stdin.
func setupInterruptHandler() context.Context {
	ctx, _ := shutdown.Context(context.Background())
	go func() {
		<-ctx.Done()
		fmt.Println("\nInterrupted")
		os.Exit(1)
	}()
	return ctx
}

func checkHotkey(out io.Writer, hk hotkey.Hotkey, timeout time.Duration) bool {
	fmt.Fprintf(out, "Press %s...\n", hotkey.Combo)

	if err := hk.Register(); err != nil {
		fmt.Fprintf(out, "  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Fprintln(out, "  PASS: hotkey detected")
		// wait for keyup so it does not leak into the next step
		select {
		case <-hk.Keyup():
		case <-time.After(timeout / 2):
		}
		return true
	case <-time.After(timeout):
		fmt.Fprintln(out, "  FAIL: timeout waiting for hotkey")
		return false
	}
}

// checkMicrophone records for d through the same recorder the app uses
// and returns the exported clip.
func checkMicrophone(ctx context.Context, out io.Writer, src acquirer, format string, d time.Duration) (encoder.Clip, bool) {
	var (
		peakMu sync.Mutex
		peak   float64
	)
	rec := recorder.New(recorder.WithFormat(format), recorder.WithLevel(func(rms float64) {
		peakMu.Lock()
		peak = max(peak, rms)
		peakMu.Unlock()
	}))

	stream, err := src.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: cannot open microphone: %v\n", err)
		return encoder.Clip{}, false
	}
	fmt.Fprintf(out, "  Device: %s\n", stream.DeviceName())
	if audio.IsBluetooth(stream.DeviceName()) {
		fmt.Fprintln(out, "  Warning: Bluetooth input, expect lower audio quality")
	}

	if err := rec.Begin(stream); err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return encoder.Clip{}, false
	}
	fmt.Fprint(out, "  Recording")
	deadline := time.After(d)
	ticker := time.NewTicker(500 * time.Millisecond)
wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-ticker.C:
			fmt.Fprint(out, ".")
		}
	}
	ticker.Stop()
	fmt.Fprintln(out, " done")

	captured := rec.Samples()
	if err := rec.End(); err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return encoder.Clip{}, false
	}
	clip, err := rec.Export(ctx)
	rec.Clear()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: export: %v\n", err)
		return encoder.Clip{}, false
	}

	if captured == 0 {
		fmt.Fprintln(out, "  FAIL: no audio captured")
		return clip, false
	}

	peakMu.Lock()
	p := peak
	peakMu.Unlock()
	fmt.Fprintf(out, "  Captured %.1fs, %.1f KB %s, peak level %.2f\n",
		clip.Duration().Seconds(), float64(len(clip.Data))/1024, strings.ToUpper(clip.Format), p)
	if p < 0.01 {
		fmt.Fprintln(out, "  Warning: input is nearly silent, check the selected device")
	}
	fmt.Fprintln(out, "  PASS: microphone captured audio")
	return clip, true
}

func checkEndpoint(ctx context.Context, out io.Writer, client *upload.Client, clip encoder.Clip) bool {
	fmt.Fprintf(out, "  POST %s\n", client.Endpoint())
	res, err := client.Upload(ctx, clip)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "  HTTP %d in %dms", res.StatusCode, res.Metrics.Total.Milliseconds())
	if res.Metrics.TLSProtocol != "" {
		fmt.Fprintf(out, " (%s)", res.Metrics.TLSProtocol)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  PASS: endpoint accepted the clip")
	return true
}
