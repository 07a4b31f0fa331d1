package emotion_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/intervue/moodline/internal/emotion"
	"github.com/intervue/moodline/internal/worker"
	"github.com/intervue/moodline/internal/worker/workertest"
)

func TestHelperProcess(t *testing.T) {
	if workertest.Mode() == "" {
		return
	}
	workertest.Run(os.Stdin, os.Stdout, os.Stderr)
	os.Exit(0)
}

func newDetector(t *testing.T, mode string, modelPresent bool) *emotion.Detector {
	t.Helper()
	model := filepath.Join(t.TempDir(), "best.pt")
	if modelPresent {
		if err := os.WriteFile(model, []byte("weights"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	name, args, env := workertest.Command(mode)
	d := emotion.New(worker.Config{
		ModelPath:       model,
		Interpreter:     name,
		InterpreterArgs: args,
		Env:             env,
		RequestTimeout:  2 * time.Second,
		RespawnDelay:    100 * time.Millisecond,
		StopTimeout:     time.Second,
	})
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func TestDetect_DisabledNeverSpawns(t *testing.T) {
	d := newDetector(t, workertest.ModeEcho, false)

	for i := 0; i < 100; i++ {
		res := d.Detect(context.Background(), "data:image/jpeg;base64,AAAA")
		if res.Error == "" || res.DominantEmotion != nil {
			t.Fatalf("call %d: expected disabled result, got %+v", i, res)
		}
		if res.Faces == nil || len(res.Faces) != 0 {
			t.Fatalf("call %d: faces must be an empty array", i)
		}
	}

	h := d.Health()
	if !h.Disabled || h.ProcessAlive || h.Ready {
		t.Errorf("Unexpected health %+v", h)
	}
	if h.Reason == "" || h.State != "disabled" {
		t.Errorf("Expected reason and disabled state, got %+v", h)
	}
	if st := d.Supervisor().Status(); st.Attempts != 0 {
		t.Errorf("Expected no spawn attempts, got %d", st.Attempts)
	}
}

func TestDetect_EndToEnd(t *testing.T) {
	d := newDetector(t, workertest.ModeEcho, true)

	res := d.Detect(context.Background(), "data:image/jpeg;base64,AAAA")
	if res.Error != "" {
		t.Fatalf("Unexpected error %q", res.Error)
	}
	if len(res.Faces) != 1 {
		t.Fatalf("Expected one face, got %d", len(res.Faces))
	}
	f := res.Faces[0]
	if f.X1 != 1 || f.Y1 != 2 || f.X2 != 50 || f.Y2 != 60 || f.Confidence != 0.91 || f.Color != "#00FF00" {
		t.Errorf("Face not passed through unchanged: %+v", f)
	}
	if f.Emotion == nil || *f.Emotion != "happy" {
		t.Errorf("Expected happy face, got %v", f.Emotion)
	}
	if res.DominantEmotion == nil || *res.DominantEmotion != "happy" {
		t.Errorf("Expected dominant emotion happy, got %v", res.DominantEmotion)
	}

	h := d.Health()
	if !h.ProcessAlive || !h.Ready || h.Disabled {
		t.Errorf("Unexpected health after a response: %+v", h)
	}
	if h.Pending != 0 {
		t.Errorf("Expected no pending requests, got %d", h.Pending)
	}
}

func TestDetect_WorkerReportedError(t *testing.T) {
	d := newDetector(t, workertest.ModeEcho, true)

	res := d.Detect(context.Background(), "")
	if res.Error != "Missing image" {
		t.Errorf("Expected worker error, got %q", res.Error)
	}
	if res.Faces == nil {
		t.Error("Faces must be non-nil")
	}
}

func TestDetect_NoisyWorker(t *testing.T) {
	d := newDetector(t, workertest.ModeNoise, true)

	res := d.Detect(context.Background(), "img")
	if res.Error != "" || len(res.Faces) != 1 {
		t.Fatalf("Expected a normal result despite noise, got %+v", res)
	}
	deadline := time.Now().Add(2 * time.Second)
	for d.Health().DroppedLines < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected dropped lines to be counted, got %d", d.Health().DroppedLines)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDetect_OutOfOrderResponses(t *testing.T) {
	d := newDetector(t, workertest.ModeReverse, true)

	var wg sync.WaitGroup
	errs := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.Detect(context.Background(), "img")
			if res.Error != "" {
				errs <- res.Error
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("Unexpected error %q", e)
	}
}

func TestHealth_AfterShutdown(t *testing.T) {
	d := newDetector(t, workertest.ModeEcho, true)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	h := d.Health()
	if h.ProcessAlive || h.State != "stopped" {
		t.Errorf("Unexpected health %+v", h)
	}
	if res := d.Detect(context.Background(), "img"); res.Error != "not started" {
		t.Errorf("Expected 'not started' after shutdown, got %q", res.Error)
	}
}
