package config

type PushConfig struct {
	FCM  *FCMConfig  `yaml:"fcm"`
	APNS *APNSConfig `yaml:"apns"`
	SNS  *SNSConfig  `yaml:"sns"`
}

type FCMConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ProjectID   string `yaml:"project_id"`
	Credentials string `yaml:"credentials_file"`
}

type APNSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	KeyFile    string `yaml:"key_file"`
	Production bool   `yaml:"production"`
}

// SNSConfig targets devices registered as SNS platform endpoints; the device
// push token holds the endpoint ARN.
type SNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

func loadPushConfig() *PushConfig {
	return &PushConfig{
		FCM: &FCMConfig{
			Enabled:     getEnvAsBool("FCM_ENABLED", false),
			ProjectID:   getEnv("FCM_PROJECT_ID", ""),
			Credentials: getEnv("FCM_CREDENTIALS_FILE", ""),
		},
		APNS: &APNSConfig{
			Enabled:    getEnvAsBool("APNS_ENABLED", false),
			KeyID:      getEnv("APNS_KEY_ID", ""),
			TeamID:     getEnv("APNS_TEAM_ID", ""),
			BundleID:   getEnv("APNS_BUNDLE_ID", ""),
			KeyFile:    getEnv("APNS_KEY_FILE", ""),
			Production: getEnvAsBool("APNS_PRODUCTION", false),
		},
		SNS: &SNSConfig{
			Enabled: getEnvAsBool("SNS_ENABLED", false),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
	}
}
