package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
)

const (
	// EnvPrefix 环境变量前缀，例如 VKBOT_TOKEN、VKBOT_LOG_LEVEL。
	EnvPrefix = "VKBOT"

	DefaultAPIURL          = "https://api.vk.com/method"
	DefaultAPIVersion      = "5.103"
	DefaultPollingVersion  = 3
	DefaultPollTimeout     = 25 * time.Second
	DefaultExecuteInterval = 50 * time.Millisecond
)

// Settings 机器人运行配置。
// Load 之后视为只读；需要补全的字段（如 GroupID）通过 WithGroupID 生成新副本。
type Settings struct {
	Token           string        `mapstructure:"token" yaml:"token"`
	GroupID         int64         `mapstructure:"group_id" yaml:"group_id"`
	APIURL          string        `mapstructure:"api_url" yaml:"api_url"`
	APIVersion      string        `mapstructure:"api_version" yaml:"api_version"`
	PollingVersion  int           `mapstructure:"polling_version" yaml:"polling_version"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`         // 长轮询 wait 参数
	ExecuteInterval time.Duration `mapstructure:"execute_interval" yaml:"execute_interval"` // 批量调用刷新间隔
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`             // execute 请求每秒上限，<=0 不限速
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	Confirmation    string        `mapstructure:"confirmation" yaml:"confirmation,omitempty"` // 回调 API 确认串
	Secret          string        `mapstructure:"secret" yaml:"secret,omitempty"`             // 回调 API 密钥
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
	Webhook         WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// WebhookConfig 回调服务监听配置
type WebhookConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// Default 返回仅包含默认值的配置。
func Default() Settings {
	return Settings{
		APIURL:          DefaultAPIURL,
		APIVersion:      DefaultAPIVersion,
		PollingVersion:  DefaultPollingVersion,
		PollTimeout:     DefaultPollTimeout,
		ExecuteInterval: DefaultExecuteInterval,
		RateLimit:       20,
		RateBurst:       3,
		Log:             LogConfig{Level: "info", Format: "json"},
		Webhook:         WebhookConfig{Listen: ":8080", Path: "/callback"},
	}
}

// Load 读取配置文件（可为空）与 VKBOT_ 前缀环境变量，返回校验过的配置。
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 注册默认值；AutomaticEnv 只对已知 key 生效，因此所有字段都需要在此出现。
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("token", "")
	v.SetDefault("group_id", 0)
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("api_version", d.APIVersion)
	v.SetDefault("polling_version", d.PollingVersion)
	v.SetDefault("poll_timeout", d.PollTimeout.String())
	v.SetDefault("execute_interval", d.ExecuteInterval.String())
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_burst", d.RateBurst)
	v.SetDefault("confirmation", "")
	v.SetDefault("secret", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("webhook.listen", d.Webhook.Listen)
	v.SetDefault("webhook.path", d.Webhook.Path)
}

// Validate 检查必填项与取值范围。
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Token) == "" {
		return boterrors.NewValidationError("token is required")
	}
	if s.PollTimeout < time.Second {
		return boterrors.NewValidationError("poll_timeout must be at least 1s")
	}
	if s.ExecuteInterval <= 0 {
		return boterrors.NewValidationError("execute_interval must be positive")
	}
	if s.GroupID < 0 {
		return boterrors.NewValidationError("group_id must not be negative")
	}
	return nil
}

// WithGroupID 返回补全了群组 ID 的配置副本。
func (s Settings) WithGroupID(id int64) Settings {
	s.GroupID = id
	return s
}

// PollWaitSeconds 返回长轮询 wait 参数（秒）。
func (s Settings) PollWaitSeconds() int {
	return int(s.PollTimeout / time.Second)
}

// YAML 以 YAML 形式导出配置，token 与密钥会被遮蔽。
func (s Settings) YAML() ([]byte, error) {
	masked := s
	masked.Token = mask(s.Token)
	masked.Secret = mask(s.Secret)
	out, err := yaml.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-4)
}
