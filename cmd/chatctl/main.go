package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/crm-chat/backend/internal/config"
	"github.com/zhouzirui/crm-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/crm-chat/backend/internal/service/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
	"github.com/zhouzirui/crm-chat/backend/internal/service/request"
	"github.com/zhouzirui/crm-chat/backend/internal/service/transport"
	"github.com/zhouzirui/crm-chat/backend/internal/storage"
)

const (
	failedReply    = "Sorry, the message could not be delivered. Please try again."
	resolveTimeout = 5 * time.Second
)

var (
	webhookURL = flag.String("webhook", "", "Webhook URL, overrides CHAT_WEBHOOK_URL")
	dataDir    = flag.String("data", "", "Directory for the conversation snapshot, overrides STORAGE_DIR")
	verbose    = flag.Bool("v", false, "Print transport logs")
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
)

// session drives one terminal conversation against the store and transport.
type session struct {
	store  *chatService.Service
	sender *transport.Service
	out    io.Writer
}

func main() {
	flag.Parse()

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *webhookURL != "" {
		cfg.Webhook.URL = *webhookURL
	}
	if *dataDir != "" {
		cfg.Storage.Dir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := cfg.Storage.Settings()
	if settings.Driver == storage.DriverMemory {
		settings.Driver = storage.DriverFile
	}
	kv, closeStore, err := storage.Open(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	client := request.New(&http.Client{}, request.Options{
		Timeout: cfg.Webhook.Timeout,
		Retries: request.RetryPolicy{Count: cfg.Webhook.RetryCount, Delay: cfg.Webhook.RetryDelay},
	})
	sender, err := transport.New(client, media.NewEncoder(cfg.Webhook.MaxUploadBytes), transport.Config{
		Endpoint:      cfg.Webhook.URL,
		UploadTimeout: cfg.Webhook.UploadTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v (set CHAT_WEBHOOK_URL or -webhook)\n", err)
		os.Exit(1)
	}

	s := &session{
		store:  chatService.NewService(kv, chatService.WithKey(cfg.Storage.Key)),
		sender: sender,
		out:    os.Stdout,
	}
	history := s.store.Load(ctx)

	fmt.Println(boldGreen("CRM chat"))
	fmt.Printf("Webhook: %s\n", boldCyan(cfg.Webhook.URL))
	fmt.Printf("%d messages restored. Commands: /file <path> [kind], /history, /clear, exit\n\n", len(history))

	s.run(ctx, os.Stdin)
}

func (s *session) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, boldGreen("You: "))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"):
			return
		case line == "/history":
			s.printHistory()
		case line == "/clear":
			if err := s.store.ClearMessages(ctx); err != nil {
				fmt.Fprintln(s.out, red("clear failed: "+err.Error()))
				continue
			}
			fmt.Fprintln(s.out, faint("history cleared"))
		case strings.HasPrefix(line, "/file"):
			path, kind, err := parseFileCommand(line)
			if err != nil {
				fmt.Fprintln(s.out, red(err.Error()))
				continue
			}
			s.sendFile(ctx, path, kind)
		default:
			s.exchange(ctx, chat.Draft{Content: line, Sender: chat.SenderUser, Type: chat.TypeText}, func() (string, error) {
				return s.sender.SendMessage(ctx, line)
			})
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *session) sendFile(ctx context.Context, path string, kind chat.MessageType) {
	file := media.FromPath(path)
	if kind == "" {
		encoded, err := media.NewEncoder(0).Encode(file)
		if err != nil {
			fmt.Fprintln(s.out, red(err.Error()))
			return
		}
		kind = transport.KindForMIME(encoded.MimeType)
	}

	name := filepath.Base(path)
	draft := chat.Draft{Content: name, Sender: chat.SenderUser, Type: kind, FileName: name}
	s.exchange(ctx, draft, func() (string, error) {
		return s.sender.SendMediaMessage(ctx, file, name, kind)
	})
}

func (s *session) exchange(ctx context.Context, draft chat.Draft, send func() (string, error)) {
	if _, err := s.store.AddMessage(ctx, draft); err != nil {
		fmt.Fprintln(s.out, red("could not save message: "+err.Error()))
		return
	}
	placeholderID, err := s.store.AddMessage(ctx, chat.Draft{Sender: chat.SenderBot, IsLoading: true})
	if err != nil {
		fmt.Fprintln(s.out, red("could not save message: "+err.Error()))
		return
	}

	fmt.Fprint(s.out, boldCyan("Agent: "), faint("..."), "\r")
	text, sendErr := send()

	content := text
	if sendErr != nil {
		content = failedReply
	}
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	loading := false
	if err := s.store.UpdateMessage(resolveCtx, placeholderID, chat.Patch{Content: &content, IsLoading: &loading}); err != nil {
		log.Printf("[chatctl] failed to resolve placeholder: %v", err)
	}

	if sendErr != nil {
		fmt.Fprintln(s.out, boldCyan("Agent: ")+red(content))
		return
	}
	fmt.Fprintln(s.out, boldCyan("Agent: ")+content)
	fmt.Fprintln(s.out)
}

func (s *session) printHistory() {
	messages := s.store.Messages()
	if len(messages) == 0 {
		fmt.Fprintln(s.out, faint("no messages"))
		return
	}
	for _, m := range messages {
		who := boldGreen("You")
		if m.Sender == chat.SenderBot {
			who = boldCyan("Agent")
		}
		body := m.Content
		if m.Type.IsMedia() {
			body = fmt.Sprintf("[%s] %s", m.Type, m.FileName)
		}
		fmt.Fprintf(s.out, "%s %s: %s\n", faint(m.Timestamp.Local().Format("15:04:05")), who, body)
	}
}

// parseFileCommand reads "/file <path> [kind]".
func parseFileCommand(line string) (string, chat.MessageType, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 || fields[0] != "/file" {
		return "", "", fmt.Errorf("usage: /file <path> [image|audio|document]")
	}

	var kind chat.MessageType
	if len(fields) == 3 {
		kind = chat.MessageType(strings.ToLower(fields[2]))
		if !kind.IsMedia() {
			return "", "", fmt.Errorf("unknown kind %q, use image, audio or document", fields[2])
		}
	}
	return fields[1], kind, nil
}
