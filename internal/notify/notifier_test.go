package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.sent = append(r.sent, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventLaunch, " "}, discard())

	if err := n.Notify(context.Background(), EventStop, "bye"); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("filtered event delivered: %v", s.sent)
	}
	if err := n.Notify(context.Background(), EventLaunch, "bot launch successful"); err != nil {
		t.Fatal(err)
	}
	if err := n.SendMessage(context.Background(), "code red"); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 2 || s.sent[1] != "pairbot|code red" {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestSendMessageReachesAllSenders(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, []string{EventLaunch}, discard())

	err := n.SendMessage(context.Background(), "Failed to execute. Code red.")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v", err)
	}
	if len(good.sent) != 1 || !strings.HasSuffix(good.sent[0], "Code red.") {
		t.Errorf("good sender got %v", good.sent)
	}
}

func TestNoSendersIsNotAnError(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	if n.Enabled() {
		t.Error("enabled without senders")
	}
	if err := n.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
}

func TestSendersPostJSON(t *testing.T) {
	var gotPath string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		got = nil
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tests := []struct {
		sender Sender
		path   string
		field  string
	}{
		{NewTelegramSender(srv.URL+"/", "tok", "42"), "/bottok/sendMessage", "text"},
		{NewDiscordSender(srv.URL + "/discord"), "/discord", "content"},
		{NewSlackSender(srv.URL + "/slack"), "/slack", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.sender.Name(), func(t *testing.T) {
			if err := tt.sender.Send(context.Background(), "pairbot", "bot launch successful"); err != nil {
				t.Fatal(err)
			}
			if gotPath != tt.path {
				t.Errorf("path = %q, want %q", gotPath, tt.path)
			}
			if !strings.Contains(got[tt.field], "bot launch successful") {
				t.Errorf("payload = %v", got)
			}
		})
	}
	if got["chat_id"] != "" {
		t.Errorf("chat_id leaked into slack payload")
	}
}

func TestSenderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "bad", "1").Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("err = %v", err)
	}
}
