package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/hapticphonix/larynx/pkg/audio"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestOpen_ReadsChunksAndStops(t *testing.T) {
	t.Parallel()

	// Two 10 ms blocks of silence at 48 kHz mono (480 samples × 2 bytes each).
	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nhead -c 1920 /dev/zero\nsleep 2\n")
	dev := New(script)

	stream, err := dev.Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for i := range 2 {
		select {
		case c, ok := <-stream.Chunks():
			if !ok {
				t.Fatalf("chunk %d: channel closed early", i)
			}
			if len(c.Samples) != 480 {
				t.Errorf("chunk %d: got %d samples, want 480", i, len(c.Samples))
			}
			if c.SampleRate != 48000 || c.Channels != 1 {
				t.Errorf("chunk %d: format %dHz %dch", i, c.SampleRate, c.Channels)
			}
			wantTS := time.Duration(i) * 10 * time.Millisecond
			if c.Timestamp != wantTS {
				t.Errorf("chunk %d: timestamp %v, want %v", i, c.Timestamp, wantTS)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("chunk %d: timed out", i)
		}
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestOpen_EarlyExitBusy(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "busy.sh", "#!/usr/bin/env bash\necho 'default: Device or resource busy' 1>&2\nexit 1\n")
	dev := New(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := dev.Open(ctx, audio.CaptureConfig{})
	if err == nil {
		t.Fatal("expected early exit error")
	}
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
}

func TestOpen_EarlyExitPermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/usr/bin/env bash\necho 'pulse: Permission denied' 1>&2\nexit 1\n")
	_, err := New(script).Open(context.Background(), audio.CaptureConfig{})
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	_, err := New(missing).Open(context.Background(), audio.CaptureConfig{})
	if !errors.Is(err, audio.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("expected *audio.DeviceError, got %T", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stderr string
		want   audio.DeviceErrorKind
	}{
		{"hw:1: Permission denied", audio.DevicePermissionDenied},
		{"Device or resource busy", audio.DeviceBusy},
		{"default: No such file or directory", audio.DeviceNotFound},
		{"", audio.DeviceNotFound},
	}
	for _, tc := range tests {
		if got := classify(tc.stderr); got != tc.want {
			t.Errorf("classify(%q) = %v, want %v", tc.stderr, got, tc.want)
		}
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}
