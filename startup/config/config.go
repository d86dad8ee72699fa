package config

import "os"

type Config struct {
	Port             string
	RentalsDBHost    string
	RentalsDBPort    string
	EventCacheHost   string
	EventCachePort   string
	JaegerAddress    string
	JWTSecret        string
	AsaasURL         string
	AsaasAPIKey      string
	SMTPHost         string
	SMTPPort         string
	SMTPAuthMail     string
	SMTPAuthPassword string
	OpsAlertMail     string
}

func NewConfig() *Config {
	return &Config{
		Port:             os.Getenv("RENTALS_SERVICE_PORT"),
		RentalsDBHost:    os.Getenv("RENTALS_DB_HOST"),
		RentalsDBPort:    os.Getenv("RENTALS_DB_PORT"),
		EventCacheHost:   os.Getenv("EVENT_CACHE_HOST"),
		EventCachePort:   os.Getenv("EVENT_CACHE_PORT"),
		JaegerAddress:    os.Getenv("JAEGER_ADDRESS"),
		JWTSecret:        os.Getenv("SECRET_KEY"),
		AsaasURL:         os.Getenv("ASAAS_URL"),
		AsaasAPIKey:      os.Getenv("ASAAS_API_KEY"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         os.Getenv("SMTP_PORT"),
		SMTPAuthMail:     os.Getenv("SMTP_AUTH_MAIL"),
		SMTPAuthPassword: os.Getenv("SMTP_AUTH_PASSWORD"),
		OpsAlertMail:     os.Getenv("OPS_ALERT_MAIL"),
	}
}
