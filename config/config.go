package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PlaceholderPrivateKey значение private_key из шаблона конфига, считается "ключа нет"
const PlaceholderPrivateKey = "your_private_key_here"

type AppConfig struct {
	BotToken        string
	AdminTelegramID int64
	DatabaseURL     string
	RedisAddr       string
	HTTPAddr        string
	Log             LogConfig

	Bot       BotConfig       `yaml:"bot"`
	Server    ServerConfig    `yaml:"server"`
	Xray      XrayConfig      `yaml:"xray"`
	Servers   []ServerConfig  `yaml:"servers"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Plans     []Plan          `yaml:"subscription_plans"`
	Trial     TrialConfig     `yaml:"trial"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Username string  `yaml:"username"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

// ServerConfig описание одного шлюза xray. Корневой `server` использует те же поля
// (legacy-формат с одним сервером).
type ServerConfig struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Location    string     `yaml:"location"`
	Description string     `yaml:"description"`
	IP          string     `yaml:"ip"`
	Domain      string     `yaml:"domain"`
	RealityPort int        `yaml:"reality_port"`
	VlessPort   int        `yaml:"vless_port"`
	Xray        XrayConfig `yaml:"xray"`
	SSH         *SSHConfig `yaml:"ssh"`
}

type XrayConfig struct {
	ConfigPath string        `yaml:"config_path"`
	APIAddress string        `yaml:"api_address"`
	Reality    RealityConfig `yaml:"reality"`
}

type RealityConfig struct {
	PrivateKey  string   `yaml:"private_key"`
	PublicKey   string   `yaml:"public_key"`
	ShortID     string   `yaml:"short_id"`
	ServerNames []string `yaml:"server_names"`
	Dest        string   `yaml:"dest"`
}

// SSHConfig доступ к удалённому серверу: config.json забирается и заливается через scp,
// перезапуск и статистика выполняются через ssh
type SSHConfig struct {
	User    string `yaml:"user"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	KeyPath string `yaml:"key_path"`
}

type PaymentsConfig struct {
	Enabled              bool           `yaml:"enabled"`
	CryptoBotToken       string         `yaml:"crypto_bot_token"`
	YooMoneyToken        string         `yaml:"yoomoney_token"`
	YooMoneyAccessToken  string         `yaml:"yoomoney_access_token"`
	RubRate              float64        `yaml:"rub_rate"`
	TelegramStarsEnabled bool           `yaml:"telegram_stars_enabled"`
	AutoGenerateKeys     *bool          `yaml:"auto_generate_keys"`
	InvoiceTTL           time.Duration  `yaml:"invoice_ttl"`
	YooKassa             YooKassaConfig `yaml:"yookassa"`
}

type YooKassaConfig struct {
	ShopID    string `yaml:"shop_id"`
	SecretKey string `yaml:"secret_key"`
	ReturnURL string `yaml:"return_url"`
}

type Plan struct {
	Days       int     `yaml:"days"`
	Price      float64 `yaml:"price"`
	PriceStars int     `yaml:"price_stars"`
	Title      string  `yaml:"title"`
}

type TrialConfig struct {
	Enabled bool `yaml:"enabled"`
	Days    int  `yaml:"days"`
}

// ReconcileConfig интервалы опроса платёжных систем
type ReconcileConfig struct {
	Interval   time.Duration `yaml:"interval"`
	FirstDelay time.Duration `yaml:"first_delay_min"`
	FirstMax   time.Duration `yaml:"first_delay_max"`
	Grace      time.Duration `yaml:"grace"`
}

// Load читает .env (если есть), затем YAML-файл по пути path и накладывает переменные окружения.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse разбирает YAML и заполняет значения по умолчанию. Окружение не читает.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Payments.RubRate <= 0 {
		c.Payments.RubRate = 80
	}
	if c.Payments.InvoiceTTL <= 0 {
		c.Payments.InvoiceTTL = time.Hour
	}
	if c.Trial.Days <= 0 {
		c.Trial.Days = 3
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 30 * time.Second
	}
	if c.Reconcile.FirstDelay <= 0 {
		c.Reconcile.FirstDelay = 10 * time.Second
	}
	if c.Reconcile.FirstMax < c.Reconcile.FirstDelay {
		c.Reconcile.FirstMax = 30 * time.Second
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.BotToken == "" {
		c.BotToken = c.Bot.Token
	}
	if c.AdminTelegramID == 0 && len(c.Bot.AdminIDs) > 0 {
		c.AdminTelegramID = c.Bot.AdminIDs[0]
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.BotToken = v
	}
	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.AdminTelegramID = id
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("YOOKASSA_SHOP_ID"); v != "" {
		c.Payments.YooKassa.ShopID = v
	}
	if v := os.Getenv("YOOKASSA_SECRET_KEY"); v != "" {
		c.Payments.YooKassa.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate проверяет критичные параметры, без которых бот не стартует
func (c *AppConfig) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("bot token is not set"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if len(c.Plans) == 0 {
		errs = append(errs, errors.New("subscription_plans is empty"))
	}
	for _, p := range c.Plans {
		if p.Days <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: days must be positive", p.Title))
		}
	}
	return errors.Join(errs...)
}

// AutoGenerateKeys по умолчанию включено
func (c *AppConfig) AutoGenerateKeys() bool {
	if c.Payments.AutoGenerateKeys == nil {
		return true
	}
	return *c.Payments.AutoGenerateKeys
}

func (c *AppConfig) PlanByDays(days int) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Days == days {
			return p, true
		}
	}
	return Plan{}, false
}

// LegacyServer собирает описание сервера из корневых секций server/xray.
// Используется, когда список servers пуст.
func (c *AppConfig) LegacyServer() ServerConfig {
	s := c.Server
	s.ID = "default"
	if s.Name == "" {
		s.Name = "VPN"
	}
	if s.Xray.ConfigPath == "" && s.Xray.APIAddress == "" && s.Xray.Reality.PrivateKey == "" {
		s.Xray = c.Xray
	}
	return s
}
