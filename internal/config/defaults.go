package config

const (
	defaultSampleSheet               = "SampleSheet.csv"
	defaultAcquisitionTimeoutMinutes = 4320 // three days of instrument time
	defaultSummaryTimeoutMinutes     = 30
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Analysis: Analysis{
			Command:                   []string{"analyze-run"},
			SampleSheet:               defaultSampleSheet,
			AcquisitionTimeoutMinutes: defaultAcquisitionTimeoutMinutes,
			SummaryTimeoutMinutes:     defaultSummaryTimeoutMinutes,
		},
		Delivery: Delivery{
			Aliases: map[string]string{},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
