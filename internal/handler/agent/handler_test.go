package agent

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	agentService "github.com/zhouzirui/crm-chat/backend/internal/service/agent"
	"github.com/zhouzirui/crm-chat/backend/internal/service/reply"
)

type stubReplier struct {
	text string
	err  error
	got  agentService.Request
}

func (s *stubReplier) Reply(_ context.Context, req agentService.Request) (string, error) {
	s.got = req
	if req.Content == "" && req.File == "" {
		return "", agentService.ErrEmptyRequest
	}
	return s.text, s.err
}

func serve(replier Replier, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(replier).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/agent/webhook", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestWebhookRepliesInOutputEnvelope(t *testing.T) {
	replier := &stubReplier{text: "Você tem 3 reuniões hoje.\nDeseja detalhes?"}
	resp := serve(replier, `{"type":"text","content":"agenda de hoje"}`)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if replier.got.Content != "agenda de hoje" {
		t.Fatalf("unexpected request %+v", replier.got)
	}

	env := reply.Parse(resp.Body.String())
	if env.Kind != reply.KindArrayWithOutput {
		t.Fatalf("expected array envelope, got %s", env.Kind)
	}
	if env.Display() != replier.text {
		t.Fatalf("display = %q, want %q", env.Display(), replier.text)
	}
}

func TestWebhookErrors(t *testing.T) {
	cases := []struct {
		name    string
		replier *stubReplier
		body    string
		want    int
	}{
		{name: "malformed body", replier: &stubReplier{}, body: `{`, want: http.StatusBadRequest},
		{name: "empty request", replier: &stubReplier{}, body: `{"type":"text"}`, want: http.StatusBadRequest},
		{name: "model failure", replier: &stubReplier{err: errors.New("rate limited")}, body: `{"content":"hi"}`, want: http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := serve(tc.replier, tc.body); resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}
