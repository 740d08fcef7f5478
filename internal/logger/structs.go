package logger

// Console implements a console based logger.
type Console struct {
	Enabled          bool `mapstructure:"enabled"`
	UseConsoleWriter bool `mapstructure:"pretty"`
}

// LogFile implements a rotating file based logger. Warnings and worse go
// to ErrorLog, everything else to InfoLog.
type LogFile struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`

	InfoLog  string `mapstructure:"info"`
	ErrorLog string `mapstructure:"error"`

	MaxSize    int  `mapstructure:"maxSize"` // megabytes
	MaxBackups int  `mapstructure:"maxBackups"`
	MaxAge     int  `mapstructure:"maxAge"` // days
	Compress   bool `mapstructure:"compress"`
}

// Log implements the logger config.
type Log struct {
	LogLevel     string `mapstructure:"level"` // trace, debug, info, warn, error.
	ReportCaller bool   `mapstructure:"caller"`

	ServiceName string `mapstructure:"service"`

	Console Console `mapstructure:"console"`
	File    LogFile `mapstructure:"file"`
}
