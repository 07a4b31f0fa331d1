package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/intervue/moodline/internal/store"
	"github.com/intervue/moodline/internal/types"
)

func str(s string) *string { return &s }

type fakeDetector struct {
	result types.Result
	health types.Health

	mu     sync.Mutex
	images []string
}

func (f *fakeDetector) Detect(_ context.Context, image string) types.Result {
	f.mu.Lock()
	f.images = append(f.images, image)
	f.mu.Unlock()
	return f.result
}

func (f *fakeDetector) Health() types.Health { return f.health }

type fakeStore struct {
	mu       sync.Mutex
	recorded map[string][]types.Result
	summary  types.SessionSummary
	err      error
}

func (f *fakeStore) RecordSample(_ context.Context, id string, res types.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string][]types.Result)
	}
	f.recorded[id] = append(f.recorded[id], res)
	return f.err
}

func (f *fakeStore) SessionSummary(_ context.Context, id string) (types.SessionSummary, error) {
	if f.err != nil {
		return types.SessionSummary{}, f.err
	}
	s := f.summary
	s.SessionID = id
	return s, nil
}

func happyResult() types.Result {
	return types.Result{
		Faces: []types.FaceBox{{
			X1: 1, Y1: 2, X2: 50, Y2: 60,
			Emotion: str("happy"), Confidence: 0.91, Color: "#00FF00",
		}},
		DominantEmotion: str("happy"),
	}
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return m
}

func TestFrame_Success(t *testing.T) {
	d := &fakeDetector{result: happyResult()}
	s := &fakeStore{}
	h := NewHandler(d, s)

	rec := serve(h, http.MethodPost, "/api/emotion/frame", `{"image":"data:image/jpeg;base64,AAAA","sessionId":"sess-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["success"] != true || body["dominantEmotion"] != "happy" {
		t.Errorf("Unexpected body %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("Successful frame must not carry an error: %v", body)
	}
	faces, _ := body["faces"].([]any)
	if len(faces) != 1 {
		t.Errorf("Expected one face, got %v", body["faces"])
	}
	if len(d.images) != 1 || d.images[0] != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Image not forwarded untouched: %v", d.images)
	}
	if len(s.recorded["sess-1"]) != 1 {
		t.Errorf("Expected the sample to be recorded, got %v", s.recorded)
	}
}

func TestFrame_DetectionErrorIsStill200(t *testing.T) {
	d := &fakeDetector{result: types.ErrorResult("model not found at /models/best.pt")}
	s := &fakeStore{}
	h := NewHandler(d, s)

	rec := serve(h, http.MethodPost, "/api/emotion/frame", `{"image":"AAAA","sessionId":"sess-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["success"] != true || body["error"] != "model not found at /models/best.pt" {
		t.Errorf("Unexpected body %v", body)
	}
	if faces, ok := body["faces"].([]any); !ok || len(faces) != 0 {
		t.Errorf("faces must be an empty array, got %v", body["faces"])
	}
	if body["dominantEmotion"] != nil {
		t.Errorf("dominantEmotion must be null, got %v", body["dominantEmotion"])
	}
	if len(s.recorded) != 0 {
		t.Errorf("Failed detections must not be recorded")
	}
}

func TestFrame_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `image=abc`, "INVALID_BODY"},
		{"empty image", `{"image":""}`, "MISSING_IMAGE"},
		{"missing image", `{}`, "MISSING_IMAGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDetector{result: happyResult()}
			rec := serve(NewHandler(d, nil), http.MethodPost, "/api/emotion/frame", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body := decode(t, rec); body["code"] != tt.code || body["success"] != false {
				t.Errorf("Unexpected body %v", body)
			}
			if len(d.images) != 0 {
				t.Error("Detector must not be called for a bad request")
			}
		})
	}
}

func TestFrame_StoreFailureDoesNotFailFrame(t *testing.T) {
	d := &fakeDetector{result: happyResult()}
	h := NewHandler(d, &fakeStore{err: errors.New("connection refused")})

	rec := serve(h, http.MethodPost, "/api/emotion/frame", `{"image":"AAAA","sessionId":"sess-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["dominantEmotion"] != "happy" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestHealth(t *testing.T) {
	exit := 1
	d := &fakeDetector{health: types.Health{
		Disabled:     true,
		Reason:       "model not found at /models/best.pt",
		ModelPath:    "/models/best.pt",
		State:        "disabled",
		LastExitCode: &exit,
	}}

	rec := serve(NewHandler(d, nil), http.MethodGet, "/api/emotion/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["disabled"] != true || body["process"] != false || body["ready"] != false {
		t.Errorf("Unexpected health %v", body)
	}
	if body["reason"] != "model not found at /models/best.pt" || body["modelPath"] != "/models/best.pt" {
		t.Errorf("Unexpected health %v", body)
	}
	if body["lastExitCode"] != float64(1) {
		t.Errorf("lastExitCode = %v, want 1", body["lastExitCode"])
	}
}

func TestSessionEmotions(t *testing.T) {
	s := &fakeStore{summary: types.SessionSummary{
		Samples:  3,
		WithFace: 3,
		Dominant: str("happy"),
		Emotions: []types.EmotionCount{{Emotion: "happy", Count: 2}, {Emotion: "neutral", Count: 1}},
	}}

	rec := serve(NewHandler(&fakeDetector{}, s), http.MethodGet, "/api/sessions/sess-9/emotions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sum types.SessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.SessionID != "sess-9" || sum.Samples != 3 || len(sum.Emotions) != 2 {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestSessionEmotions_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		samples SampleStore
	}{
		{"no store", nil},
		{"unknown session", &fakeStore{err: store.ErrSessionNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHandler(&fakeDetector{}, tt.samples), http.MethodGet, "/api/sessions/x/emotions", "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestSessionEmotions_StoreError(t *testing.T) {
	rec := serve(NewHandler(&fakeDetector{}, &fakeStore{err: errors.New("boom")}), http.MethodGet, "/api/sessions/x/emotions", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(&fakeDetector{health: types.Health{State: "ready"}}, nil)
	serve(h, http.MethodGet, "/api/emotion/health", "")

	rec := serve(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `emotion_http_requests_total{route="/api/emotion/health",status="200"}`) {
		t.Errorf("Expected the health request to be counted")
	}
}
