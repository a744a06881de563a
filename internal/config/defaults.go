package config

const (
	defaultDataDir               = "~/.local/share/annolab"
	defaultLogDir                = "~/.local/share/annolab/logs"
	defaultAPIBind               = "127.0.0.1:7420"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultServerReadTimeout     = 15
	defaultServerWriteTimeout    = 30
	defaultServerShutdownTimeout = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Server: Server{
			ReadTimeout:     defaultServerReadTimeout,
			WriteTimeout:    defaultServerWriteTimeout,
			ShutdownTimeout: defaultServerShutdownTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
