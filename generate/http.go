package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-melody/storage"
)

// HTTPGenerator asks a go-melody server (or any backend serving /save-text) to
// generate. A 2xx status is success, 409 is ErrBusy and anything else is a
// FailedError.
type HTTPGenerator struct {
	base         string
	client       *http.Client
	continuation bool
}

func NewHTTPGenerator(base string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPGenerator{base: strings.TrimRight(base, "/"), client: client}
}

// NewHTTPContinuation asks the server to continue a recording it already
// stores (see storage.HTTPStore).
func NewHTTPContinuation(base string, client *http.Client) *HTTPGenerator {
	h := NewHTTPGenerator(base, client)
	h.continuation = true
	return h
}

type saveTextRequest struct {
	Text string `json:"text"`
}

type continueRequest struct {
	Recording string `json:"recording"`
}

type saveTextResponse struct {
	Message   string `json:"message"`
	MidiPath  string `json:"midiPath"`
	AudioPath string `json:"audioPath"`
	Error     string `json:"error"`
	Details   string `json:"details"`
}

func (h *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	endpoint := "/save-text"
	var payload any = saveTextRequest{Text: req.Prompt}
	if h.continuation {
		endpoint = "/continue"
		payload = continueRequest{Recording: req.Recording.Name()}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var out saveTextResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 {
		detail := string(raw)
		if decodeErr == nil {
			switch {
			case out.Details != "":
				detail = out.Details
			case out.Error != "":
				detail = out.Error
			}
		}
		if resp.StatusCode == http.StatusConflict {
			return Result{}, fmt.Errorf("%w: %s", ErrBusy, detail)
		}
		return Result{}, &FailedError{Detail: detail}
	}
	if decodeErr != nil {
		return Result{}, &FailedError{Detail: fmt.Sprintf("bad response: %v", decodeErr)}
	}
	return Result{MIDI: storage.Ref(out.MidiPath), Audio: storage.Ref(out.AudioPath)}, nil
}
