package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/crm-chat/backend/internal/storage"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Webhook WebhookConfig `yaml:"webhook"`
	Storage StorageConfig `yaml:"storage"`
	AI      AIConfig      `yaml:"ai"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// WebhookConfig 描述消息发送的目标与重试策略。
type WebhookConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	UploadTimeout  time.Duration `yaml:"uploadTimeout"`
	RetryCount     int           `yaml:"retryCount"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
}

// StorageConfig 描述会话快照的存储位置。
type StorageConfig struct {
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	Key        string `yaml:"key"`
	NatsURL    string `yaml:"natsUrl"`
	NatsBucket string `yaml:"natsBucket"`
}

// Settings maps the storage section onto the KV opener.
func (s StorageConfig) Settings() storage.Settings {
	return storage.Settings{
		Driver:     s.Driver,
		Dir:        s.Dir,
		NatsURL:    s.NatsURL,
		NatsBucket: s.NatsBucket,
	}
}

// AIConfig 描述本地 agent 使用的大模型配置。
type AIConfig struct {
	APIKey       string   `yaml:"apiKey"`
	AccessKey    string   `yaml:"accessKey"`
	SecretKey    string   `yaml:"secretKey"`
	Model        string   `yaml:"model"`
	BaseURL      string   `yaml:"baseUrl"`
	Region       string   `yaml:"region"`
	Temperature  *float64 `yaml:"temperature"`
	TopP         *float64 `yaml:"topP"`
	MaxTokens    *int     `yaml:"maxTokens"`
	SystemPrompt string   `yaml:"systemPrompt"`
}

// Default returns the configuration used before the file and environment are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Webhook: WebhookConfig{
			Timeout:        30 * time.Second,
			UploadTimeout:  60 * time.Second,
			RetryCount:     2,
			RetryDelay:     time.Second,
			MaxUploadBytes: 32 << 20,
		},
		Storage: StorageConfig{
			Driver:     storage.DriverFile,
			Dir:        "data",
			Key:        "chat-messages",
			NatsURL:    "nats://127.0.0.1:4222",
			NatsBucket: "chat",
		},
		AI: AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
	}
}

// Load 依次读取默认值、CONFIG_FILE 指向的 YAML 文件与环境变量。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr, err := normalizeAddr(port)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}

	w := &cfg.Webhook
	w.URL = getEnvOrDefault("CHAT_WEBHOOK_URL", w.URL)

	var err error
	if w.Timeout, err = parseDurationEnv("CHAT_REQUEST_TIMEOUT", w.Timeout); err != nil {
		return err
	}
	if w.UploadTimeout, err = parseDurationEnv("CHAT_UPLOAD_TIMEOUT", w.UploadTimeout); err != nil {
		return err
	}
	if w.RetryDelay, err = parseDurationEnv("CHAT_RETRY_DELAY", w.RetryDelay); err != nil {
		return err
	}
	if count, err := parseOptionalIntEnv("CHAT_RETRY_COUNT"); err != nil {
		return err
	} else if count != nil {
		w.RetryCount = *count
	}
	if limit, err := parseOptionalIntEnv("CHAT_MAX_UPLOAD_BYTES"); err != nil {
		return err
	} else if limit != nil {
		w.MaxUploadBytes = int64(*limit)
	}

	s := &cfg.Storage
	s.Driver = strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", s.Driver))
	s.Dir = getEnvOrDefault("STORAGE_DIR", s.Dir)
	s.Key = getEnvOrDefault("CHAT_STORAGE_KEY", s.Key)
	s.NatsURL = getEnvOrDefault("NATS_URL", s.NatsURL)
	s.NatsBucket = getEnvOrDefault("NATS_KV_BUCKET", s.NatsBucket)

	return applyAIEnv(&cfg.AI)
}

func applyAIEnv(ai *AIConfig) error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		ai.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		ai.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		ai.MaxTokens = maxTokens
	}

	ai.APIKey = getEnvOrDefault("ARK_API_KEY", ai.APIKey)
	ai.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", ai.AccessKey)
	ai.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", ai.SecretKey)
	ai.Model = getEnvOrDefault("Model", ai.Model)
	ai.BaseURL = getEnvOrDefault("ARK_BASE_URL", ai.BaseURL)
	ai.Region = getEnvOrDefault("ARK_REGION", ai.Region)
	ai.SystemPrompt = getEnvOrDefault("AGENT_SYSTEM_PROMPT", ai.SystemPrompt)
	return nil
}

func (c *Config) finalize() error {
	addr, err := normalizeAddr(c.Server.Addr)
	if err != nil {
		return err
	}
	c.Server.Addr = addr

	if c.Webhook.RetryCount < 0 {
		return fmt.Errorf("invalid retry count %d", c.Webhook.RetryCount)
	}
	if c.Webhook.Timeout <= 0 || c.Webhook.UploadTimeout <= 0 {
		return fmt.Errorf("webhook timeouts must be positive")
	}
	if c.Webhook.RetryDelay < 0 {
		return fmt.Errorf("invalid retry delay %s", c.Webhook.RetryDelay)
	}

	switch c.Storage.Driver {
	case storage.DriverMemory, storage.DriverFile, storage.DriverNats:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Webhook.URL == "" && c.AI.Enabled() {
		// 未配置外部 webhook 时回落到本服务内置的 agent。
		c.Webhook.URL = c.Server.LocalURL() + "/api/agent/webhook"
	}
	return nil
}

// LocalURL 返回本机访问监听地址的 URL。
func (s ServerConfig) LocalURL() string {
	host, port, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return "http://127.0.0.1" + s.Addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// normalizeAddr 允许 "8080"、":8080" 或 "127.0.0.1:8080"。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080", nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationEnv 接受 Go 时长格式（"30s"）或毫秒整数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return d, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
