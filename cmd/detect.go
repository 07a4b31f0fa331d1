package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/intervue/moodline/internal/emotion"
	"github.com/intervue/moodline/internal/types"
	"github.com/intervue/moodline/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// DetectOptions holds flags for the detect command
type DetectOptions struct {
	SessionID   string
	Record      bool
	Concurrency int
	Timeout     time.Duration
	JSON        bool
}

var detectOpts DetectOptions

var detectCmd = &cobra.Command{
	Use:   "detect [image or directory]...",
	Short: "Run image files through the emotion worker",
	Long: "Sends each image to the worker exactly as the interview UI sends webcam frames, " +
		"prints the detected faces, and optionally records them under a session.",
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runDetect(cmd.Context(), args, detectOpts)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.SessionID, "session", "s", "", "Session to record samples under (default: a new UUID)")
	detectCmd.Flags().BoolVarP(&detectOpts.Record, "record", "r", false, "Persist samples to the database")
	detectCmd.Flags().IntVarP(&detectOpts.Concurrency, "concurrency", "n", 2, "Frames in flight at once")
	// The first frame also waits for the model to load.
	detectCmd.Flags().DurationVarP(&detectOpts.Timeout, "timeout", "t", 30*time.Second, "Per-frame timeout")
	detectCmd.Flags().BoolVar(&detectOpts.JSON, "json", false, "Print one JSON result per line instead of a table")
	rootCmd.AddCommand(detectCmd)
}

type frameResult struct {
	Path   string       `json:"path"`
	Result types.Result `json:"result"`
}

func runDetect(ctx context.Context, args []string, opts DetectOptions) {
	validateDetectFlags(&opts)

	paths, err := collectImages(args)
	if err != nil {
		utils.Die("Failed to collect images", err, nil)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "No images found.")
		return
	}

	if opts.Record {
		if _, err := openStore(ctx, true); err != nil {
			utils.Die("Cannot record samples", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📝 Recording to session %s\n", opts.SessionID)
	}

	wcfg := Cfg.WorkerConfig()
	wcfg.RequestTimeout = opts.Timeout
	detector := emotion.New(wcfg)
	detector.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*wcfg.StopTimeout)
		defer cancel()
		_ = detector.Shutdown(shutdownCtx)
	}()

	if h := detector.Health(); h.Disabled {
		utils.Die("Emotion detection is disabled", fmt.Errorf("%s", h.Reason), nil)
	}
	fmt.Fprintf(os.Stderr, "⚙️  Worker started (pid %d), sending %d frames...\n", detector.Supervisor().Status().Pid, len(paths))

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🎭 Detecting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	results := make([]frameResult, len(paths))
	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				results[i] = detectFile(ctx, detector, paths[i])
				if opts.Record && results[i].Result.Error == "" {
					if err := DB.RecordSample(ctx, opts.SessionID, results[i].Result); err != nil {
						fmt.Fprintf(os.Stderr, "\n⚠️  Failed to record %s: %v\n", paths[i], err)
					}
				}
				bar.Add(1)
			}
		}()
	}

feed:
	for i := range paths {
		select {
		case tasks <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	// Frames never sent because of Ctrl+C have no path.
	done := results[:0]
	for _, r := range results {
		if r.Path != "" {
			done = append(done, r)
		}
	}
	results = done

	if opts.JSON {
		printJSON(results)
	} else {
		printTable(results)
	}
	printTally(tally(results))
}

func validateDetectFlags(opts *DetectOptions) {
	if opts.Concurrency < 1 {
		utils.Die("Invalid Flag", fmt.Errorf("--concurrency must be at least 1"), nil)
	}
	if opts.Concurrency > Cfg.Emotion.MaxPending {
		opts.Concurrency = Cfg.Emotion.MaxPending
	}
	if opts.Timeout <= 0 {
		utils.Die("Invalid Flag", fmt.Errorf("--timeout must be positive"), nil)
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
}

func detectFile(ctx context.Context, d *emotion.Detector, path string) frameResult {
	image, err := utils.ImageToDataURL(path)
	if err != nil {
		return frameResult{Path: path, Result: types.ErrorResult(err.Error())}
	}
	return frameResult{Path: path, Result: d.Detect(ctx, image)}
}

// collectImages expands directories (one level, sorted) and keeps explicit
// files as given.
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && utils.IsImageFile(e.Name()) {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	return paths, nil
}

// tally counts dominant emotions the way the session summary does.
func tally(results []frameResult) types.SessionSummary {
	sum := types.SessionSummary{Emotions: []types.EmotionCount{}}
	counts := make(map[string]int)
	for _, r := range results {
		sum.Samples++
		if len(r.Result.Faces) > 0 {
			sum.WithFace++
		}
		if r.Result.DominantEmotion != nil {
			counts[*r.Result.DominantEmotion]++
		}
	}
	for e, n := range counts {
		sum.Emotions = append(sum.Emotions, types.EmotionCount{Emotion: e, Count: n})
	}
	sort.Slice(sum.Emotions, func(i, j int) bool {
		if sum.Emotions[i].Count != sum.Emotions[j].Count {
			return sum.Emotions[i].Count > sum.Emotions[j].Count
		}
		return sum.Emotions[i].Emotion < sum.Emotions[j].Emotion
	})
	if len(sum.Emotions) > 0 {
		top := sum.Emotions[0].Emotion
		sum.Dominant = &top
	}
	return sum
}

func printJSON(results []frameResult) {
	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			utils.Die("Failed to write results", err, nil)
		}
	}
}

func printTable(results []frameResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILE\tFACES\tDOMINANT\tERROR")
	fmt.Fprintln(w, "----\t-----\t--------\t-----")
	for _, r := range results {
		dominant := "-"
		if r.Result.DominantEmotion != nil {
			dominant = *r.Result.DominantEmotion
		}
		errText := "-"
		if r.Result.Error != "" {
			errText = r.Result.Error
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", filepath.Base(r.Path), len(r.Result.Faces), dominant, errText)
	}
	w.Flush()
}

func printTally(sum types.SessionSummary) {
	fmt.Fprintf(os.Stderr, "\n📊 %d frames, %d with a face", sum.Samples, sum.WithFace)
	if sum.Dominant != nil {
		fmt.Fprintf(os.Stderr, ", mostly %s", *sum.Dominant)
	}
	fmt.Fprintln(os.Stderr)
}
