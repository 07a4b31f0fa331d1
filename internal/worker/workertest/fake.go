// Package workertest runs a fake emotion worker inside a re-executed test
// binary, so supervisor tests exercise real pipes and real process exits.
//
// In the test package:
//
//	func TestHelperProcess(t *testing.T) {
//		if workertest.Mode() == "" {
//			return
//		}
//		workertest.Run(os.Stdin, os.Stdout, os.Stderr)
//		os.Exit(0)
//	}
package workertest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/intervue/moodline/internal/types"
)

// EnvMode selects the fake worker's behavior in the child process.
const EnvMode = "MOODLINE_FAKE_WORKER"

const (
	ModeEcho     = "echo"      // answer every request with one happy face
	ModeSilent   = "silent"    // read requests, never answer
	ModeNoise    = "noise"     // emit garbage and an orphan before each answer
	ModeReverse  = "reverse"   // answer requests in pairs, second one first
	ModeLoadFail = "load-fail" // report a model load failure and exit 1
	ModeStderr   = "stderr"    // log to stderr, then behave like echo
	ModeOversize = "oversize"  // emit an OversizeBytes debug line before each answer
)

// OversizeBytes is the length of the junk line ModeOversize prints. Tests set
// a smaller MaxLineBytes so the line is over the limit.
const OversizeBytes = 256 * 1024

// FaceLine is the face every answering mode returns.
const FaceLine = `{"x1":1,"y1":2,"x2":50,"y2":60,"emotion":"happy","confidence":0.91,"color":"#00FF00"}`

// Mode returns the requested mode, or "" in the normal test process.
func Mode() string {
	return os.Getenv(EnvMode)
}

// Command returns the executable, arguments and extra environment that make
// the current test binary run as a fake worker in the given mode.
func Command(mode string) (name string, args []string, env []string) {
	return os.Args[0], []string{"-test.run=^TestHelperProcess$", "--"}, []string{EnvMode + "=" + mode}
}

// Run serves requests from in until EOF.
func Run(in io.Reader, out, errOut io.Writer) {
	mode := Mode()
	w := bufio.NewWriter(out)
	defer w.Flush()

	if mode == ModeLoadFail {
		fmt.Fprintln(w, `{"error": "Failed to load model: weights are corrupt"}`)
		w.Flush()
		os.Exit(1)
	}
	if mode == ModeStderr {
		fmt.Fprintln(errOut, "Ultralytics YOLOv8 starting")
		fmt.Fprintln(errOut, "RuntimeError: cascade missing, falling back")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var held *types.DetectionRequest
	for scanner.Scan() {
		var req types.DetectionRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			fmt.Fprintf(w, `{"id": null, "error": %q, "faces": [], "dominantEmotion": null}`+"\n", err.Error())
			w.Flush()
			continue
		}

		switch mode {
		case ModeSilent:
			continue
		case ModeNoise:
			fmt.Fprintln(w, "not json")
			fmt.Fprintln(w, `{"id":"does-not-exist","faces":[],"dominantEmotion":null}`)
			answer(w, req)
		case ModeOversize:
			fmt.Fprintf(w, `{"debug":"%s"}`+"\n", strings.Repeat("a", OversizeBytes))
			answer(w, req)
		case ModeReverse:
			if held == nil {
				r := req
				held = &r
				continue
			}
			answer(w, req)
			answer(w, *held)
			held = nil
		default:
			answer(w, req)
		}
		w.Flush()
	}
}

func answer(w io.Writer, req types.DetectionRequest) {
	if req.Image == "" {
		fmt.Fprintf(w, `{"id": %q, "error": "Missing image", "faces": [], "dominantEmotion": null}`+"\n", req.ID)
		return
	}
	fmt.Fprintf(w, `{"id": %q, "faces": [%s], "dominantEmotion": "happy", "frame": {"width": 640, "height": 480}, "debug": []}`+"\n", req.ID, FaceLine)
}
