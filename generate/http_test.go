package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-melody/storage"
)

func TestHTTPGenerator(t *testing.T) {
	var got saveTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/save-text", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Melody generated successfully","midiPath":"/artifacts/generated.mid"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPGenerator(srv.URL, nil).Generate(context.Background(), Request{Prompt: "jazz"})
	require.NoError(t, err)
	assert.Equal(t, "jazz", got.Text)
	assert.Equal(t, storage.Ref("/artifacts/generated.mid"), res.MIDI)
	assert.Empty(t, res.Audio)
}

func TestHTTPGeneratorFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{"details", http.StatusInternalServerError, `{"error":"Melody generation failed","details":"CUDA out of memory"}`, "CUDA out of memory"},
		{"error only", http.StatusInternalServerError, `{"error":"Error processing MIDI file"}`, "Error processing MIDI file"},
		{"raw body", http.StatusBadGateway, `upstream down`, "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPGenerator(srv.URL, nil).Generate(context.Background(), Request{Prompt: "x"})
			var failed *FailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tc.detail, failed.Detail)
		})
	}
}

func TestHTTPGeneratorConflictIsBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"generation already in progress"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL, nil).Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrFailed)
}

func TestHTTPContinuation(t *testing.T) {
	var got continueRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/continue", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":"MIDI file saved and generated successfully","midiPath":"/artifacts/generated.mid"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPContinuation(srv.URL, nil).Generate(context.Background(), Request{Recording: "/artifacts/recorded.mid"})
	require.NoError(t, err)
	assert.Equal(t, storage.RecordedMIDI, got.Recording)
	assert.Equal(t, storage.Ref("/artifacts/generated.mid"), res.MIDI)
}
