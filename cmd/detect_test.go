package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/intervue/moodline/internal/types"
)

func strPtr(s string) *string { return &s }

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.png", "notes.txt", "c.JPEG"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0xFF}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0755); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(dir, "notes.txt")

	got, err := collectImages([]string{dir, explicit})
	if err != nil {
		t.Fatalf("collectImages() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "c.JPEG"),
		explicit, // explicit files are kept whatever their extension
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collectImages() = %v, want %v", got, want)
	}

	if _, err := collectImages([]string{filepath.Join(dir, "missing.jpg")}); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestTally(t *testing.T) {
	face := types.FaceBox{Emotion: strPtr("happy"), Confidence: 0.9}
	results := []frameResult{
		{Path: "1.jpg", Result: types.Result{Faces: []types.FaceBox{face}, DominantEmotion: strPtr("happy")}},
		{Path: "2.jpg", Result: types.Result{Faces: []types.FaceBox{face}, DominantEmotion: strPtr("sad")}},
		{Path: "3.jpg", Result: types.Result{Faces: []types.FaceBox{face}, DominantEmotion: strPtr("happy")}},
		{Path: "4.jpg", Result: types.Result{Faces: []types.FaceBox{}}},
		{Path: "5.jpg", Result: types.ErrorResult("Timeout")},
	}

	sum := tally(results)
	if sum.Samples != 5 || sum.WithFace != 3 {
		t.Errorf("samples=%d withFace=%d, want 5/3", sum.Samples, sum.WithFace)
	}
	if sum.Dominant == nil || *sum.Dominant != "happy" {
		t.Errorf("Dominant = %v, want happy", sum.Dominant)
	}
	want := []types.EmotionCount{{Emotion: "happy", Count: 2}, {Emotion: "sad", Count: 1}}
	if !reflect.DeepEqual(sum.Emotions, want) {
		t.Errorf("Emotions = %+v, want %+v", sum.Emotions, want)
	}
}

func TestTally_Empty(t *testing.T) {
	sum := tally(nil)
	if sum.Dominant != nil || sum.Emotions == nil || len(sum.Emotions) != 0 {
		t.Errorf("Unexpected empty tally %+v", sum)
	}
}

func TestTally_TieBreaksByName(t *testing.T) {
	results := []frameResult{
		{Path: "1.jpg", Result: types.Result{DominantEmotion: strPtr("surprise")}},
		{Path: "2.jpg", Result: types.Result{DominantEmotion: strPtr("angry")}},
	}
	if sum := tally(results); *sum.Dominant != "angry" {
		t.Errorf("Dominant = %s, want angry", *sum.Dominant)
	}
}
