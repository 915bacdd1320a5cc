package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Instrument struct {
		Symbol string `yaml:"symbol"`
	} `yaml:"instrument"`
	Book struct {
		Depth                  int     `yaml:"depth"`
		BufferLimit            int     `yaml:"buffer_limit"`
		TradeCapacity          int     `yaml:"trade_capacity"`
		SnapshotLimit          int     `yaml:"snapshot_limit"`
		SnapshotTimeoutSeconds int     `yaml:"snapshot_timeout_seconds"`
		ResyncCooldownSeconds  int     `yaml:"resync_cooldown_seconds"`
		SnapshotBurst          int     `yaml:"snapshot_burst"`
		SnapshotPerMinute      float64 `yaml:"snapshot_per_minute"`
	} `yaml:"book"`
	Network struct {
		WSKeepAliveSeconds int `yaml:"ws_keepalive_seconds"`
	} `yaml:"network"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Exchange struct {
		Binance struct {
			BaseURL string `yaml:"base_url"`
			WSURL   string `yaml:"ws_url"`
		} `yaml:"binance"`
	} `yaml:"exchange"`
}

func defaultConfig() Config {
	var c Config
	c.Instrument.Symbol = "BTCUSDT"
	c.Book.Depth = 20
	c.Book.BufferLimit = 1024
	c.Book.TradeCapacity = 50
	c.Book.SnapshotLimit = 1000
	c.Book.SnapshotTimeoutSeconds = 10
	c.Book.ResyncCooldownSeconds = 30
	c.Book.SnapshotBurst = 3
	c.Book.SnapshotPerMinute = 6.0
	c.Network.WSKeepAliveSeconds = 15
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Exchange.Binance.BaseURL = "https://api.binance.com"
	c.Exchange.Binance.WSURL = "wss://stream.binance.com:9443/stream"
	return c
}

func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("BOOKWATCH_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	if v := os.Getenv("BOOKWATCH_SYMBOL"); v != "" {
		c.Instrument.Symbol = v
	}
	if v := os.Getenv("BOOKWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BOOKWATCH_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BOOKWATCH_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("BOOKWATCH_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("BOOKWATCH_DEPTH"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Book.Depth = n
		}
	}
	if v := os.Getenv("BOOKWATCH_BUFFER_LIMIT"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Book.BufferLimit = n
		}
	}
	if v := os.Getenv("BOOKWATCH_RESYNC_COOLDOWN_SECONDS"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Book.ResyncCooldownSeconds = n
		}
	}
	if v := os.Getenv("BOOKWATCH_BINANCE_BASE_URL"); v != "" {
		c.Exchange.Binance.BaseURL = v
	}
	if v := os.Getenv("BOOKWATCH_BINANCE_WS_URL"); v != "" {
		c.Exchange.Binance.WSURL = v
	}
	return c
}

func splitCSV(s string) []string {
	var out []string
	buf := []rune{}
	for _, r := range s {
		if r == ',' {
			if len(buf) > 0 {
				out = append(out, string(buf))
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, r)
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}
	return out
}
