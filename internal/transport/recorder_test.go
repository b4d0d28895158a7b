package transport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorderTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveAttempt("ingest", "2xx", 10*time.Millisecond)
	r.ObserveResult("ingest", "success")
	r.ObserveVerification("satisfied", 3)

	path := filepath.Join(t.TempDir(), "telprobe.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		`telprobe_http_calls_total{client="ingest",result="success"} 1`,
		`telprobe_verify_outcomes_total{state="satisfied"} 1`,
		`telprobe_http_attempts_total{class="2xx",client="ingest"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveAttempt("x", "2xx", time.Second)
	r.ObserveResult("x", "success")
	r.ObserveVerification("satisfied", 1)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil recorder write: %v", err)
	}
}
