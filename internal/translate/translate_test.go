package translate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.AudioRef != "https://cdn.example.com/recordings/a.wav" {
			t.Errorf("AudioRef = %q", req.AudioRef)
		}
		if req.SourceLanguage != "es" || req.Speaker != "Ana" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(Result{
			Original:     "Hola a todos",
			Translations: map[string]string{"es": "Hola a todos", "en": "Hello everyone"},
			AudioRefs:    map[string]string{"en": "https://cdn.example.com/tts/en.mp3"},
			Timestamp:    1700000000000,
		})
	}))
	defer srv.Close()

	tc := NewClient(srv.URL, "key")
	res, err := tc.Translate(t.Context(), Request{
		AudioRef:        "https://cdn.example.com/recordings/a.wav",
		SourceLanguage:  "es",
		TargetLanguages: []string{"en"},
		Speaker:         "Ana",
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Original != "Hola a todos" {
		t.Errorf("Original = %q", res.Original)
	}
	if res.Translations["en"] != "Hello everyone" {
		t.Errorf("Translations[en] = %q", res.Translations["en"])
	}
	if res.AudioRefs["en"] == "" {
		t.Error("AudioRefs[en] missing")
	}
}

func TestTranslateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tc := NewClient(srv.URL, "")
	if _, err := tc.Translate(t.Context(), Request{AudioRef: "x"}); err == nil {
		t.Fatal("Translate() succeeded on 503, want error")
	}
}

func TestTranslateRejectsEmptyTranscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{})
	}))
	defer srv.Close()

	tc := NewClient(srv.URL, "")
	if _, err := tc.Translate(t.Context(), Request{AudioRef: "x"}); err == nil {
		t.Fatal("Translate() accepted empty transcription, want error")
	}
}
