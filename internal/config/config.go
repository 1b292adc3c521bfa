package config

import (
	"fmt"
	"os"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN 获取数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载数据库配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Port)
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_DATABASE"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		fmt.Sscanf(db, "%d", &c.DB)
	}
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string
}

// LoadFromEnv 从环境变量加载日志配置
func (c *LogConfig) LoadFromEnv() {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Format = format
	}
}

// RelayConfig 中继服务配置
type RelayConfig struct {
	ListenAddr string
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
}

// LoadRelay 加载中继服务配置
func LoadRelay() *RelayConfig {
	cfg := &RelayConfig{
		ListenAddr: ":4000",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "wsm",
			Password: "wsm",
			Database: "wsm",
			SSLMode:  "disable",
			MaxConns: 20,
			MaxIdle:  5,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Log.LoadFromEnv()

	return cfg
}

// CommandsConfig 硬件厂商命令字节序列（十六进制字符串，厂商固件相关，属于配置而非协议逻辑）
type CommandsConfig struct {
	Handshake      string
	StartInventory string
	StopInventory  string
}

// ReaderConfig 读写器适配进程配置
type ReaderConfig struct {
	ReaderServerID string
	Address        string // 仓库地址，与仓库记录一一对应
	Role           string // "Reader" 或 "Writer"
	HardwareAddr   string // RFID读写器 TCP 地址
	RelayURL       string // 中继服务 websocket 地址
	CommandTimeout time.Duration
	Commands       CommandsConfig
	Redis          RedisConfig
	Log            LogConfig
}

// LoadReader 加载读写器适配进程配置
func LoadReader() (*ReaderConfig, error) {
	cfg := &ReaderConfig{
		Role:           "Reader",
		HardwareAddr:   "192.168.1.100:4001",
		RelayURL:       "ws://localhost:4000/ws",
		CommandTimeout: 5 * time.Second,
		Commands: CommandsConfig{
			// Moduletech 系列默认命令，参见厂商手册 5.5.1 / 5.5.3
			Handshake:      "ff02100000",
			StartInventory: "ff13aa4d6f64756c6574656368aa48009f00800011bb0b22",
			StopInventory:  "ff0eaa4d6f64756c6574656368aa49f3bb0391",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}

	cfg.ReaderServerID = os.Getenv("READER_ID")
	if cfg.ReaderServerID == "" {
		return nil, fmt.Errorf("READER_ID is required")
	}
	cfg.Address = os.Getenv("ADDRESS")
	if cfg.Address == "" {
		return nil, fmt.Errorf("ADDRESS is required")
	}
	if role := os.Getenv("ROLE"); role != "" {
		cfg.Role = role
	}
	if addr := os.Getenv("HARDWARE_ADDR"); addr != "" {
		cfg.HardwareAddr = addr
	}
	if url := os.Getenv("RELAY_URL"); url != "" {
		cfg.RelayURL = url
	}
	if timeout := os.Getenv("COMMAND_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.CommandTimeout = d
		}
	}
	if cmd := os.Getenv("CMD_HANDSHAKE"); cmd != "" {
		cfg.Commands.Handshake = cmd
	}
	if cmd := os.Getenv("CMD_START_INVENTORY"); cmd != "" {
		cfg.Commands.StartInventory = cmd
	}
	if cmd := os.Getenv("CMD_STOP_INVENTORY"); cmd != "" {
		cfg.Commands.StopInventory = cmd
	}
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Log.LoadFromEnv()

	return cfg, nil
}
