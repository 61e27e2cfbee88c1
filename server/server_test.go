package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-melody/generate"
	"go-melody/midi"
	"go-melody/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(gen generate.Generator) (*Server, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return New(generate.NewOrchestrator(gen), store, nil), store
}

func do(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func okGenerator(audio bool) generate.Generator {
	return generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		res := generate.Result{MIDI: storage.GeneratedMIDI}
		if audio {
			res.Audio = storage.GeneratedWAV
		}
		return res, nil
	})
}

func TestSaveTextSuccess(t *testing.T) {
	srv, _ := newTestServer(okGenerator(false))
	w, out := do(t, srv.Router(), http.MethodPost, "/save-text", map[string]string{"text": "a lullaby"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Melody generated successfully", out["message"])
	assert.Equal(t, "/artifacts/generated.mid", out["midiPath"])
	assert.NotContains(t, out, "audioPath")

	srv, _ = newTestServer(okGenerator(true))
	_, out = do(t, srv.Router(), http.MethodPost, "/save-text", map[string]string{"text": "a lullaby"})
	assert.Equal(t, "/artifacts/generated.wav", out["audioPath"])
}

func TestSaveTextEmpty(t *testing.T) {
	called := false
	srv, _ := newTestServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		called = true
		return generate.Result{}, nil
	}))

	for _, body := range []any{map[string]string{"text": "  "}, map[string]string{}, []byte("{")} {
		w, out := do(t, srv.Router(), http.MethodPost, "/save-text", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No text provided", out["error"])
	}
	assert.False(t, called)
}

func TestSaveTextFailure(t *testing.T) {
	srv, _ := newTestServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		return generate.Result{}, &generate.FailedError{Detail: "Traceback (most recent call last)\n"}
	}))
	w, out := do(t, srv.Router(), http.MethodPost, "/save-text", map[string]string{"text": "x"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Melody generation failed", out["error"])
	assert.Equal(t, "Traceback (most recent call last)\n", out["details"])

	srv, _ = newTestServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		return generate.Result{}, errors.New("exec: python3: not found")
	}))
	_, out = do(t, srv.Router(), http.MethodPost, "/save-text", map[string]string{"text": "x"})
	assert.Equal(t, "exec: python3: not found", out["details"])
}

func TestSaveTextBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv, _ := newTestServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		close(started)
		<-release
		return generate.Result{MIDI: storage.GeneratedMIDI}, nil
	}))
	router := srv.Router()

	done := make(chan int, 1)
	go func() {
		w, _ := do(t, router, http.MethodPost, "/save-text", map[string]string{"text": "first"})
		done <- w.Code
	}()
	<-started

	w, _ := do(t, router, http.MethodPost, "/save-text", map[string]string{"text": "second"})
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestSaveMidi(t *testing.T) {
	srv, store := newTestServer(okGenerator(false))
	body := map[string]any{"notes": []map[string]any{
		{"note": "C4", "time": 0},
		{"note": "E4", "time": 0.5},
	}}
	w, out := do(t, srv.Router(), http.MethodPost, "/save-midi", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MIDI file saved successfully", out["message"])
	assert.Equal(t, "/artifacts/recorded.mid", out["filePath"])

	data, err := store.Fetch(context.Background(), storage.RecordedMIDI)
	require.NoError(t, err)
	notes, err := midi.Parse(data)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, uint8(64), notes[1].Pitch)
	assert.Equal(t, 500*time.Millisecond, notes[1].Start)
	assert.Equal(t, midi.DefaultNoteLength, notes[1].Duration)
}

func TestSaveMidiRejects(t *testing.T) {
	srv, store := newTestServer(okGenerator(false))

	w, out := do(t, srv.Router(), http.MethodPost, "/save-midi", map[string]any{"notes": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No notes recorded.", out["error"])

	w, _ = do(t, srv.Router(), http.MethodPost, "/save-midi", map[string]any{"notes": []map[string]any{{"note": "Db4", "time": 0}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, store.Saves())
}

func TestArtifacts(t *testing.T) {
	srv, _ := newTestServer(okGenerator(false))
	router := srv.Router()

	w, _ := do(t, router, http.MethodGet, "/artifacts/generated.mid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out := do(t, router, http.MethodPut, "/artifacts/generated.mid", []byte("MThd"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/artifacts/generated.mid", out["filePath"])

	w, _ = do(t, router, http.MethodGet, "/artifacts/generated.mid", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/midi", w.Header().Get("Content-Type"))
	assert.Equal(t, "MThd", w.Body.String())
}

func TestHTTPStoreAgainstServer(t *testing.T) {
	srv, _ := newTestServer(okGenerator(false))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := context.Background()
	client := storage.NewHTTPStore(ts.URL, nil)
	ref, err := client.Save(ctx, storage.RecordedMIDI, []byte("bytes"))
	require.NoError(t, err)

	data, err := client.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}

func TestHTTPGeneratorAgainstServer(t *testing.T) {
	srv, _ := newTestServer(okGenerator(true))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := generate.NewHTTPGenerator(ts.URL, nil).Generate(context.Background(), generate.Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, storage.Ref("/artifacts/generated.mid"), res.MIDI)
	assert.Equal(t, storage.Ref("/artifacts/generated.wav"), res.Audio)
}

func TestStatusReportsBusy(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newTestServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		<-release
		return generate.Result{MIDI: storage.GeneratedMIDI}, nil
	}))
	h := srv.Router()

	_, out := do(t, h, http.MethodGet, "/status", nil)
	assert.Equal(t, false, out["busy"])

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = srv.orch.Submit(context.Background(), "a tune")
	}()
	require.Eventually(t, srv.orch.Busy, time.Second, 5*time.Millisecond)

	w, out := do(t, h, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["busy"])

	close(release)
	<-done
	_, out = do(t, h, http.MethodGet, "/status", nil)
	assert.Equal(t, false, out["busy"])
}

func newContinuingServer(cont generate.Generator) (*Server, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	orch := generate.NewOrchestrator(okGenerator(false), generate.WithContinuation(cont))
	return New(orch, store, nil), store
}

var twoNotes = map[string]any{"notes": []map[string]any{
	{"note": "C4", "time": 0},
	{"note": "G4", "time": 1.5},
}}

func TestSaveMidiContinuesRecording(t *testing.T) {
	var got generate.Request
	srv, store := newContinuingServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		got = req
		return generate.Result{MIDI: storage.GeneratedMIDI}, nil
	}))
	w, out := do(t, srv.Router(), http.MethodPost, "/save-midi", twoNotes)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MIDI file saved and generated successfully", out["message"])
	assert.Equal(t, "/artifacts/generated.mid", out["filePath"])
	assert.Equal(t, "/artifacts/recorded.mid", out["recordedPath"])
	assert.Equal(t, storage.Ref(storage.RecordedMIDI), got.Recording)
	assert.Equal(t, 1, store.Saves())
}

func TestSaveMidiContinuationFailure(t *testing.T) {
	srv, store := newContinuingServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		return generate.Result{}, &generate.FailedError{Detail: "KeyError: 'notes'"}
	}))
	w, out := do(t, srv.Router(), http.MethodPost, "/save-midi", twoNotes)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error processing MIDI file: KeyError: 'notes'", out["error"])

	// the recording itself is kept
	_, err := store.Fetch(context.Background(), storage.RecordedMIDI)
	assert.NoError(t, err)
}

func TestContinueRoute(t *testing.T) {
	srv, _ := newTestServer(okGenerator(false))
	w, _ := do(t, srv.Router(), http.MethodPost, "/continue", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	var got storage.Ref
	srv, _ = newContinuingServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		got = req.Recording
		return generate.Result{MIDI: storage.GeneratedMIDI, Audio: storage.GeneratedWAV}, nil
	}))
	w, out := do(t, srv.Router(), http.MethodPost, "/continue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.Ref(storage.RecordedMIDI), got)
	assert.Equal(t, "/artifacts/generated.mid", out["midiPath"])
	assert.Equal(t, "/artifacts/generated.wav", out["audioPath"])

	_, _ = do(t, srv.Router(), http.MethodPost, "/continue", map[string]string{"recording": "take2.mid"})
	assert.Equal(t, storage.Ref("take2.mid"), got)
}

func TestHTTPContinuationAgainstServer(t *testing.T) {
	var store *storage.MemoryStore
	var srv *Server
	srv, store = newContinuingServer(generate.GeneratorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		if _, err := store.Fetch(ctx, req.Recording); err != nil {
			return generate.Result{}, &generate.FailedError{Detail: err.Error()}
		}
		return generate.Result{MIDI: storage.GeneratedMIDI}, nil
	}))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx := context.Background()
	ref, err := storage.NewHTTPStore(ts.URL, nil).Save(ctx, storage.RecordedMIDI, []byte("take"))
	require.NoError(t, err)

	res, err := generate.NewHTTPContinuation(ts.URL, nil).Generate(ctx, generate.Request{Recording: ref})
	require.NoError(t, err)
	assert.Equal(t, storage.Ref("/artifacts/generated.mid"), res.MIDI)
}

func TestSaveMidiRejectsOutOfRangeTime(t *testing.T) {
	srv, store := newTestServer(okGenerator(false))
	body := map[string]any{"notes": []map[string]any{{"note": "C4", "time": 3e6}}}

	w, out := do(t, srv.Router(), http.MethodPost, "/save-midi", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "out of range")
	assert.Zero(t, store.Saves())
}

func TestPutArtifactTooLarge(t *testing.T) {
	srv, store := newTestServer(okGenerator(false))

	w, _ := do(t, srv.Router(), http.MethodPut, "/artifacts/generated.wav", make([]byte, maxArtifactSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, store.Saves())

	w, _ = do(t, srv.Router(), http.MethodPut, "/artifacts/generated.wav", make([]byte, maxArtifactSize))
	assert.Equal(t, http.StatusOK, w.Code)
}
