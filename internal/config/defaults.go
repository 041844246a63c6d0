package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Path:         "/",
			MaxBodyBytes: 1 << 20,
		},
		Gateway: GatewayConfig{
			TimeoutSeconds: 30,
			Media: MediaConfig{
				Files: defaultFiles(),
				Voice: "https://download.samplelib.com/mp3/sample-3s.mp3",
				Location: LocationConfig{
					Lat:     51.51916,
					Lng:     -0.139214,
					Address: "Your location",
				},
				Group: GroupConfig{
					Name:     "WABot group",
					Greeting: "Welcome to the group created by the bot",
				},
			},
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.wabot/actions.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

func defaultFiles() map[string]string {
	return map[string]string{
		"doc": "https://file-examples.com/storage/sample.doc",
		"gif": "https://file-examples.com/storage/sample.gif",
		"jpg": "https://file-examples.com/storage/sample.jpg",
		"png": "https://file-examples.com/storage/sample.png",
		"pdf": "https://file-examples.com/storage/sample.pdf",
		"mp3": "https://file-examples.com/storage/sample.mp3",
		"mp4": "https://file-examples.com/storage/sample.mp4",
	}
}
