package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  3000,
			RequestTimeoutSeconds: 60,
			AllowedOrigins:        []string{"*"},
		},
		Webhook: WebhookConfig{
			VerifyTimeoutSeconds: 5,
			MaxBodyBytes:         1 << 20,
		},
		Inbox: InboxConfig{
			EphemeralTTLSeconds:  10,
			SweepIntervalSeconds: 60,
		},
		Identity: IdentityConfig{
			Aliases: defaultAliases(),
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.dmsbridge/journal.db",
			RetentionDays: 30,
		},
		Fanout: FanoutConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "dms.inbound",
		},
		Events: EventsConfig{
			MaxHistory: 1000,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// defaultAliases are the provider sandbox test customers.
func defaultAliases() map[string]string {
	return map[string]string{
		"7f5b3d2e-9c41-4e8a-b6d0-1a2b3c4d5e6f": "sandbox-customer-1",
		"0c9e8d7f-6b5a-4392-8170-f1e2d3c4b5a6": "sandbox-customer-2",
	}
}
