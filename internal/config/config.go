package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taoyao-code/wiperlink/internal/api/middleware"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`

	Auth      middleware.AuthConfig      `mapstructure:"auth"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rateLimit"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// NodeConfig 节点角色
// master 转发待处理命令并负责模式切换；slave 驱动本地执行器并回报状态
type NodeConfig struct {
	Role    string `mapstructure:"role"`
	Forward bool   `mapstructure:"forward"`
}

// IsMaster 是否主节点
func (n NodeConfig) IsMaster() bool { return strings.EqualFold(n.Role, "master") }

// LinkConfig LIN 串口链路
type LinkConfig struct {
	Enable           bool          `mapstructure:"enable"`
	Device           string        `mapstructure:"device"`
	BaudRate         int           `mapstructure:"baudRate"`
	BreakDivisor     int           `mapstructure:"breakDivisor"`
	InterByteTimeout time.Duration `mapstructure:"interByteTimeout"`
	ResyncBytes      int           `mapstructure:"resyncBytes"`
	CommandID        uint8         `mapstructure:"commandId"`
	StatusID         uint8         `mapstructure:"statusId"`
}

// CANConfig SocketCAN 广播总线
type CANConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Interface string `mapstructure:"interface"`
	CommandID uint32 `mapstructure:"commandId"`
	StatusID  uint32 `mapstructure:"statusId"`
}

// BreakerConfig 状态发送熔断
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// ChannelConfig 双传输通道
type ChannelConfig struct {
	DefaultTransport string        `mapstructure:"defaultTransport"`
	RetryMax         int           `mapstructure:"retryMax"`
	RetryBackoff     time.Duration `mapstructure:"retryBackoff"`
	StatusRate       int           `mapstructure:"statusRate"`
	StatusBurst      int           `mapstructure:"statusBurst"`
	PollInterval     time.Duration `mapstructure:"pollInterval"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

// AutoCommandConfig 进入自动模式时的命令
type AutoCommandConfig struct {
	Group  string `mapstructure:"group"`
	Speed  string `mapstructure:"speed"`
	Cycles int    `mapstructure:"cycles"`
}

// CoordinatorConfig 协调器时间常数
type CoordinatorConfig struct {
	NormalPeriod      time.Duration     `mapstructure:"normalPeriod"`
	FastPeriod        time.Duration     `mapstructure:"fastPeriod"`
	IntermittentPause time.Duration     `mapstructure:"intermittentPause"`
	ModeDwell         time.Duration     `mapstructure:"modeDwell"`
	JoinTimeout       time.Duration     `mapstructure:"joinTimeout"`
	StatusInterval    time.Duration     `mapstructure:"statusInterval"`
	ReceiveTimeout    time.Duration     `mapstructure:"receiveTimeout"`
	PendingInterval   time.Duration     `mapstructure:"pendingInterval"`
	AutoCommand       AutoCommandConfig `mapstructure:"autoCommand"`
}

// ActuatorGroupConfig 执行器组
type ActuatorGroupConfig struct {
	Name     string `mapstructure:"name"`
	Elements int    `mapstructure:"elements"`
}

// ActuatorsConfig 执行器布局；LayoutFile 非空时优先从 YAML 文件加载
type ActuatorsConfig struct {
	LayoutFile string                `mapstructure:"layoutFile"`
	Groups     []ActuatorGroupConfig `mapstructure:"groups"`
}

// FaultsConfig 故障信号文件（KEY=VALUE）
type FaultsConfig struct {
	Enable bool   `mapstructure:"enable"`
	File   string `mapstructure:"file"`
}

// RedisConfig Redis 配置（待处理命令队列）
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	KeyPrefix    string        `mapstructure:"keyPrefix"`
	HistoryLimit int           `mapstructure:"historyLimit"`
	TTL          time.Duration `mapstructure:"ttl"`
}

// MQTTConfig 状态镜像发布
type MQTTConfig struct {
	Enable         bool          `mapstructure:"enable"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"clientId"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Topic          string        `mapstructure:"topic"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// Config 顶层配置结构
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Node        NodeConfig        `mapstructure:"node"`
	Link        LinkConfig        `mapstructure:"link"`
	CAN         CANConfig         `mapstructure:"can"`
	Channel     ChannelConfig     `mapstructure:"channel"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Actuators   ActuatorsConfig   `mapstructure:"actuators"`
	Faults      FaultsConfig      `mapstructure:"faults"`
	Redis       RedisConfig       `mapstructure:"redis"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
}

// ErrInvalidConfig 配置组合非法
var ErrInvalidConfig = errors.New("invalid config")

// Load 从 YAML 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 WIPER_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("WIPER_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 WIPER_，并将点号替换为下划线
	v.SetEnvPrefix("WIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查跨字段约束
func (c *Config) Validate() error {
	switch strings.ToLower(c.Node.Role) {
	case "master", "slave":
	default:
		return fmt.Errorf("%w: node.role %q", ErrInvalidConfig, c.Node.Role)
	}
	if !c.Link.Enable && !c.CAN.Enable {
		return fmt.Errorf("%w: at least one of link/can must be enabled", ErrInvalidConfig)
	}
	if c.Link.Enable && c.Link.Device == "" {
		return fmt.Errorf("%w: link.device is empty", ErrInvalidConfig)
	}
	if c.CAN.Enable && c.CAN.Interface == "" {
		return fmt.Errorf("%w: can.interface is empty", ErrInvalidConfig)
	}
	if c.Link.CommandID > 0x3F || c.Link.StatusID > 0x3F {
		return fmt.Errorf("%w: link ids must fit in 6 bits", ErrInvalidConfig)
	}
	if c.CAN.CommandID > 0x7FF || c.CAN.StatusID > 0x7FF {
		return fmt.Errorf("%w: can ids must fit in 11 bits", ErrInvalidConfig)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wiperd")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.auth.enabled", false)
	v.SetDefault("http.rateLimit.enabled", true)
	v.SetDefault("http.rateLimit.requestsPerMin", 120)
	v.SetDefault("http.rateLimit.burstSize", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/wiperd.log")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("node.role", "slave")
	v.SetDefault("node.forward", false)

	v.SetDefault("link.enable", true)
	v.SetDefault("link.device", "/dev/serial0")
	v.SetDefault("link.baudRate", 19200)
	v.SetDefault("link.breakDivisor", 4)
	v.SetDefault("link.interByteTimeout", "50ms")
	v.SetDefault("link.resyncBytes", 36)
	v.SetDefault("link.commandId", 0x20)
	v.SetDefault("link.statusId", 0x21)

	v.SetDefault("can.enable", false)
	v.SetDefault("can.interface", "can0")
	v.SetDefault("can.commandId", 0x100)
	v.SetDefault("can.statusId", 0x101)

	v.SetDefault("channel.defaultTransport", "lin")
	v.SetDefault("channel.retryMax", 5)
	v.SetDefault("channel.retryBackoff", "100ms")
	v.SetDefault("channel.statusRate", 20)
	v.SetDefault("channel.statusBurst", 10)
	v.SetDefault("channel.pollInterval", "20ms")
	v.SetDefault("channel.breaker.threshold", 5)
	v.SetDefault("channel.breaker.cooldown", "5s")

	v.SetDefault("coordinator.normalPeriod", "300ms")
	v.SetDefault("coordinator.fastPeriod", "150ms")
	v.SetDefault("coordinator.intermittentPause", "1700ms")
	v.SetDefault("coordinator.modeDwell", "1s")
	v.SetDefault("coordinator.joinTimeout", "2s")
	v.SetDefault("coordinator.statusInterval", "1s")
	v.SetDefault("coordinator.receiveTimeout", "100ms")
	v.SetDefault("coordinator.pendingInterval", "100ms")
	v.SetDefault("coordinator.autoCommand.group", "both")
	v.SetDefault("coordinator.autoCommand.speed", "normal")
	v.SetDefault("coordinator.autoCommand.cycles", 0)

	v.SetDefault("faults.enable", false)
	v.SetDefault("faults.file", "response.env")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.keyPrefix", "wiper")
	v.SetDefault("redis.historyLimit", 1000)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientId", "wiperd")
	v.SetDefault("mqtt.topic", "wiper/status")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", true)
	v.SetDefault("mqtt.connectTimeout", "5s")
}
