package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
	"github.com/zhouzirui/crm-chat/backend/internal/service/request"
)

type recordedCall struct {
	endpoint string
	payload  any
	options  request.Options
}

type fakePoster struct {
	mu      sync.Mutex
	calls   []recordedCall
	body    string
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakePoster) Post(ctx context.Context, endpoint string, payload any, opts ...request.Option) (*request.Response, error) {
	options := request.DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{endpoint: endpoint, payload: payload, options: options})
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &request.Response{StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type unreadableFile struct{}

func (unreadableFile) Name() string                 { return "scan.pdf" }
func (unreadableFile) ContentType() string          { return "application/pdf" }
func (unreadableFile) Open() (io.ReadCloser, error) { return nil, errors.New("permission denied") }

func TestSendMessageOverHTTP(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`[{"output":"Olá!\\nComo posso ajudar?"}]`))
	}))
	defer srv.Close()

	client := request.New(srv.Client(), request.DefaultOptions())
	svc, err := New(client, nil, Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	replyText, err := svc.SendMessage(context.Background(), "oi")
	if err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}

	if got["type"] != "text" || got["content"] != "oi" {
		t.Fatalf("unexpected payload %v", got)
	}
	if replyText != "Olá!\nComo posso ajudar?" {
		t.Fatalf("unexpected reply %q", replyText)
	}
	if svc.Loading() {
		t.Fatal("loading flag should be cleared after success")
	}
}

func TestSendMediaMessagePayload(t *testing.T) {
	poster := &fakePoster{body: `{"message":"received"}`}
	svc, err := New(poster, media.NewEncoder(0), Config{Endpoint: "http://agent/webhook", UploadTimeout: 45 * time.Second})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	file := media.FromBytes("contract.pdf", []byte("%PDF-1.4"), "application/pdf")
	replyText, err := svc.SendMediaMessage(context.Background(), file, "contract.pdf", chat.TypeDocument)
	if err != nil {
		t.Fatalf("SendMediaMessage err: %v", err)
	}
	if replyText != "received" {
		t.Fatalf("unexpected reply %q", replyText)
	}

	if len(poster.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(poster.calls))
	}
	call := poster.calls[0]
	payload, ok := call.payload.(mediaPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", call.payload)
	}
	if payload.Type != chat.TypeDocument || payload.Content != "contract.pdf" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.File != base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")) {
		t.Fatalf("unexpected file payload %q", payload.File)
	}
	if payload.MimeType != "application/pdf" {
		t.Fatalf("unexpected mime %q", payload.MimeType)
	}
	if call.options.Timeout != 45*time.Second {
		t.Fatalf("expected upload timeout, got %s", call.options.Timeout)
	}
}

func TestSendFailureIsGeneric(t *testing.T) {
	poster := &fakePoster{err: &request.HTTPStatusError{Endpoint: "x", StatusCode: http.StatusBadGateway}}
	svc, _ := New(poster, nil, Config{Endpoint: "http://agent/webhook"})

	_, err := svc.SendMessage(context.Background(), "hello")

	var sendErr *SendFailedError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendFailedError, got %T", err)
	}
	if err.Error() != "failed to send message" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	var statusErr *request.HTTPStatusError
	if errors.As(err, &statusErr) {
		t.Fatal("request error detail must not cross the transport boundary")
	}
	if svc.Loading() {
		t.Fatal("loading flag should be cleared after failure")
	}
}

func TestSendMediaEncodingFailure(t *testing.T) {
	poster := &fakePoster{body: "ok"}
	svc, _ := New(poster, media.NewEncoder(0), Config{Endpoint: "http://agent/webhook"})

	_, err := svc.SendMediaMessage(context.Background(), unreadableFile{}, "scan.pdf", chat.TypeDocument)
	if err == nil || err.Error() != "failed to send file" {
		t.Fatalf("expected generic file failure, got %v", err)
	}
	if len(poster.calls) != 0 {
		t.Fatal("request must not be attempted when encoding fails")
	}
	if svc.InFlight() != 0 {
		t.Fatalf("in-flight count leaked: %d", svc.InFlight())
	}
}

func TestSendMediaRejectsTextKind(t *testing.T) {
	svc, _ := New(&fakePoster{}, nil, Config{Endpoint: "http://agent/webhook"})

	_, err := svc.SendMediaMessage(context.Background(), media.FromBytes("a", nil, ""), "a", chat.TypeText)
	if !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestConcurrentSendsKeepLoadingUntilBothFinish(t *testing.T) {
	poster := &fakePoster{body: "ok", release: make(chan struct{}), started: make(chan struct{}, 2)}
	svc, _ := New(poster, media.NewEncoder(0), Config{Endpoint: "http://agent/webhook"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.SendMessage(context.Background(), "text")
	}()
	go func() {
		defer wg.Done()
		svc.SendMediaMessage(context.Background(), media.FromBytes("a.png", []byte("x"), "image/png"), "a.png", chat.TypeImage)
	}()

	<-poster.started
	<-poster.started
	if got := svc.InFlight(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}

	poster.release <- struct{}{}
	deadline := time.Now().Add(time.Second)
	for svc.InFlight() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !svc.Loading() {
		t.Fatal("loading must stay true while the other send is outstanding")
	}

	poster.release <- struct{}{}
	wg.Wait()
	if svc.Loading() {
		t.Fatal("loading should clear once both sends finish")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(&fakePoster{}, nil, Config{}); !errors.Is(err, ErrEndpointRequired) {
		t.Fatalf("expected ErrEndpointRequired, got %v", err)
	}
}

func TestKindForMIME(t *testing.T) {
	cases := map[string]chat.MessageType{
		"image/jpeg":      chat.TypeImage,
		"audio/ogg":       chat.TypeAudio,
		"application/pdf": chat.TypeDocument,
		"":                chat.TypeDocument,
	}
	for mimeType, want := range cases {
		if got := KindForMIME(mimeType); got != want {
			t.Errorf("KindForMIME(%q) = %s, want %s", mimeType, got, want)
		}
	}
}
