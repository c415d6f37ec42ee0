package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

func stubCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*captured = append([]string{name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFMPEG_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestFFmpeg_X264Profile(t *testing.T) {
	var args []string
	stubCommand(t, "success", &args)

	dir := t.TempDir()
	in, out := filepath.Join(dir, "clip.mp4"), filepath.Join(dir, "clip_converted.mkv")

	err := NewFFmpeg(WithBinary("/opt/ffmpeg")).Transcode(context.Background(), in, out, Params{Format: jobs.FormatMKV, Quality: 20})
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}

	if args[0] != "/opt/ffmpeg" {
		t.Fatalf("expected custom binary, got %q", args[0])
	}
	idx := findArg(args, "-crf")
	if idx == -1 || args[idx+1] != "20" {
		t.Fatalf("expected -crf 20 in %v", args)
	}
	if idx := findArg(args, "-c:a"); idx == -1 || args[idx+1] != "libmp3lame" {
		t.Fatalf("expected libmp3lame audio in %v", args)
	}
	if findArg(args, "-y") == -1 || findArg(args, "-nostdin") == -1 {
		t.Fatalf("expected non-interactive flags in %v", args)
	}
	if args[len(args)-1] != out {
		t.Fatalf("expected output path last, got %v", args)
	}
}

func TestFFmpeg_WebMUsesBitrate(t *testing.T) {
	var args []string
	stubCommand(t, "success", &args)

	err := NewFFmpeg().Transcode(context.Background(), "in.mp4", "out.webm", Params{Format: jobs.FormatWebM, Quality: 20})
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}

	if findArg(args, "-crf") != -1 {
		t.Fatalf("webm profile must not use -crf, got %v", args)
	}
	if idx := findArg(args, "-b:v"); idx == -1 || args[idx+1] != "1M" {
		t.Fatalf("expected -b:v 1M in %v", args)
	}
	if idx := findArg(args, "-c:v"); idx == -1 || args[idx+1] != "libvpx" {
		t.Fatalf("expected libvpx in %v", args)
	}
}

func TestFFmpeg_Failure(t *testing.T) {
	var args []string
	stubCommand(t, "failure", &args)

	err := NewFFmpeg().Transcode(context.Background(), "in.mp4", "out.avi", Params{Format: jobs.FormatAVI})

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if engineErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", engineErr.ExitCode)
	}
	if !strings.Contains(engineErr.Stderr, "Invalid data found") {
		t.Fatalf("expected stderr tail, got %q", engineErr.Stderr)
	}
}

func TestFFmpeg_UnknownFormat(t *testing.T) {
	var args []string
	stubCommand(t, "success", &args)

	if err := NewFFmpeg().Transcode(context.Background(), "in.mp4", "out.gif", Params{Format: "gif"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if len(args) != 0 {
		t.Fatalf("engine must not run for unknown format, ran %v", args)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "in.mp4: Invalid data found when processing input")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}
