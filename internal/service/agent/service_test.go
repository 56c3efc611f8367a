package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
)

// echoModel answers with the last message it was given.
type echoModel struct {
	lastInput []*schema.Message
	err       error
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.lastInput = input
	if m.err != nil {
		return nil, m.err
	}
	last := input[len(input)-1]
	return schema.AssistantMessage("echo: "+last.Content, nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *echoModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestReplyText(t *testing.T) {
	fake := &echoModel{}
	svc, err := NewService(context.Background(), fake, "")
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	got, err := svc.Reply(context.Background(), Request{Type: chat.TypeText, Content: "qual o faturamento?"})
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if got != "echo: qual o faturamento?" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(fake.lastInput) != 2 || fake.lastInput[0].Role != schema.System {
		t.Fatalf("expected system + user messages, got %d", len(fake.lastInput))
	}
	if fake.lastInput[0].Content != DefaultSystemPrompt {
		t.Fatalf("default system prompt not applied")
	}
}

func TestReplyDescribesMedia(t *testing.T) {
	svc, err := NewService(context.Background(), &echoModel{}, "custom prompt")
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	got, err := svc.Reply(context.Background(), Request{Type: chat.TypeImage, Content: "chart.png", File: "QUJD", MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if !strings.Contains(got, `"chart.png"`) || !strings.Contains(got, "image/png") {
		t.Fatalf("media description missing details: %q", got)
	}
}

func TestReplySizesDataURLPayload(t *testing.T) {
	svc, err := NewService(context.Background(), &echoModel{}, "")
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	cases := []struct {
		name string
		file string
	}{
		{name: "plain base64", file: "QUJD"},
		{name: "data url", file: "data:application/pdf;base64,QUJD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Reply(context.Background(), Request{Type: chat.TypeDocument, Content: "contrato.pdf", File: tc.file, MimeType: "application/pdf"})
			if err != nil {
				t.Fatalf("Reply err: %v", err)
			}
			if !strings.Contains(got, "about 3 bytes") {
				t.Fatalf("size should count only the payload: %q", got)
			}
		})
	}
}

func TestReplyEmptyRequest(t *testing.T) {
	svc, _ := NewService(context.Background(), &echoModel{}, "")
	if _, err := svc.Reply(context.Background(), Request{Type: chat.TypeText, Content: "   "}); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
}

func TestReplyModelFailure(t *testing.T) {
	svc, _ := NewService(context.Background(), &echoModel{err: errors.New("quota")}, "")
	if _, err := svc.Reply(context.Background(), Request{Content: "oi"}); err == nil {
		t.Fatal("expected model error")
	}
}

func TestNewServiceRequiresModel(t *testing.T) {
	if _, err := NewService(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error without chat model")
	}
}
