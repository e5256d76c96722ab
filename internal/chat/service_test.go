package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/ai"
)

type scriptedProvider struct {
	calls   [][]ai.Message
	replies []string
	err     error
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message, opts ...ai.ChatOption) (string, error) {
	_ = ctx
	_ = opts
	// copy to avoid mutations
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "ok", nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

type fakeTranscriber struct {
	filename string
	text     string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	_ = ctx
	_ = audio
	f.filename = filename
	return f.text, nil
}

func newTestService(t *testing.T, prov *scriptedProvider) (*Service, *History, *memStore) {
	t.Helper()
	h, _, store, _ := newTestHistory(t)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	svc := NewService(h, reg, nil, Models{Provider: "fake", Chat: "chat-model", Classify: "classify-model"}, zerolog.Nop())
	return svc, h, store
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"draft answer", "final answer"}}
	svc, h, _ := newTestService(t, prov)
	ctx := context.Background()

	reply, err := svc.SendMessage(ctx, SendRequest{UserID: "u1", PatientID: "p1", SessionTime: "2024-01-01", Text: "Hello"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if reply != "final answer" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	views, err := h.LoadTurns(ctx, "u1", "p1", "2024-01-01")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(views))
	}
	if views[0].Role != RoleUser || views[0].Message != "Hello" {
		t.Fatalf("unexpected user turn: %+v", views[0])
	}
	if views[1].Role != RoleAssistant || views[1].Message != "final answer" {
		t.Fatalf("unexpected assistant turn: %+v", views[1])
	}

	if len(prov.calls) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(prov.calls))
	}
	first := prov.calls[0]
	if first[0].Role != RoleDeveloper || first[0].Content != systemPrompt {
		t.Fatalf("first call must start with the system prompt: %+v", first[0])
	}
	if last := first[len(first)-1]; last.Role != RoleUser || last.Content != "Hello" {
		t.Fatalf("first call must end with the new user turn: %+v", last)
	}
	second := prov.calls[1]
	if len(second) != 1 || !strings.Contains(second[0].Content, "draft answer") {
		t.Fatalf("second call must rewrite the draft: %+v", second)
	}
}

func TestSendMessage_PassesSignedImageURL(t *testing.T) {
	prov := &scriptedProvider{}
	svc, _, store := newTestService(t, prov)

	_, err := svc.SendMessage(context.Background(), SendRequest{
		UserID:      "u1",
		PatientID:   "p1",
		SessionTime: "2024/01/01",
		Text:        "what is on this scan",
		Image:       attachment("scan.png", []byte("png-bytes")),
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if _, ok := store.objects["u1/p1/2024-01-01/scan.png"]; !ok {
		t.Fatalf("expected object under normalized key, have %v", store.objects)
	}
	first := prov.calls[0]
	img := first[len(first)-1].ImageURL
	if !strings.HasPrefix(img, testBucketHost+"/u1/p1/2024-01-01/scan.png") {
		t.Fatalf("expected signed url in provider history, got %q", img)
	}
}

func TestSendMessage_ProviderFailureKeepsUserTurn(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("upstream 500")}
	svc, h, _ := newTestService(t, prov)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, SendRequest{UserID: "u1", PatientID: "p1", SessionTime: "s1", Text: "Hello"})
	if KindOf(err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	views, err := h.LoadTurns(ctx, "u1", "p1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(views) != 1 || views[0].Role != RoleUser {
		t.Fatalf("expected only the user turn, got %+v", views)
	}
}

func TestSendMessage_RejectsBadIdentifiers(t *testing.T) {
	prov := &scriptedProvider{}
	svc, _, _ := newTestService(t, prov)

	_, err := svc.SendMessage(context.Background(), SendRequest{UserID: "u1", PatientID: "", SessionTime: "s1", Text: "x"})
	if KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
	if len(prov.calls) != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestClassify(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"'Heart'"}}
	svc, _, _ := newTestService(t, prov)
	ctx := context.Background()

	got, err := svc.Classify(ctx, "chest pain", []string{"Heart", "Lung"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got != "Heart" {
		t.Fatalf("unexpected match %q", got)
	}

	if _, err := svc.Classify(ctx, "  ", []string{"Heart"}); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid for empty text, got %v", err)
	}
	if _, err := svc.Classify(ctx, "x", nil); KindOf(err) != KindInvalid {
		t.Fatalf("expected invalid for empty list, got %v", err)
	}
}

func TestTranscribe_WithoutTranscriber(t *testing.T) {
	svc, _, _ := newTestService(t, &scriptedProvider{})
	_, err := svc.Transcribe(context.Background(), "a.webm", strings.NewReader("audio"))
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestTranscribe_DelegatesToTranscriber(t *testing.T) {
	h, _, _, _ := newTestHistory(t)
	tr := &fakeTranscriber{text: "patient reports chest pain"}
	svc := NewService(h, ai.NewRegistry(), tr, Models{}, zerolog.Nop())

	got, err := svc.Transcribe(context.Background(), "note.webm", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != tr.text || tr.filename != "note.webm" {
		t.Fatalf("unexpected transcription %q for %q", got, tr.filename)
	}
}
