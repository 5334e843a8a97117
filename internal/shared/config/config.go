package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Bedrock  BedrockConfig
	Records  RecordsConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// BedrockConfig holds the AWS Bedrock backend settings.
type BedrockConfig struct {
	// Region is the AWS region hosting the model and knowledge base
	Region string
	// KnowledgeBaseID identifies the retrieval corpus for general questions
	KnowledgeBaseID string
	// ModelARN is the model (or inference profile) used by both backends
	ModelARN string
	// MaxTokens caps the direct-completion response length
	MaxTokens int
	// Temperature for direct completions
	Temperature float64
	// RequestsPerSecond paces outbound Bedrock calls
	RequestsPerSecond float64
}

// RecordsConfig bounds each record-store accessor so the assembled
// context stays a predictable size.
type RecordsConfig struct {
	AdmissionLimit  int
	DiagnosisLimit  int
	ProcedureLimit  int
	LabLimit        int
	MedicationLimit int
	MedAdminLimit   int
	OrderLimit      int
	ICUStayLimit    int
	VitalLimit      int
	ICUInputLimit   int
}

type AuthConfig struct {
	// Enabled toggles JWT authentication on the query API
	Enabled   bool
	JWTSecret string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "healthcare_rag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Bedrock: BedrockConfig{
			Region:            getEnv("AWS_REGION", "us-east-1"),
			KnowledgeBaseID:   getEnv("BEDROCK_KB_ID", ""),
			ModelARN:          getEnv("BEDROCK_MODEL_ARN", ""),
			MaxTokens:         getEnvInt("BEDROCK_MAX_TOKENS", 3000),
			Temperature:       getEnvFloat("BEDROCK_TEMPERATURE", 0.7),
			RequestsPerSecond: getEnvFloat("BEDROCK_RPS", 2),
		},
		Records: RecordsConfig{
			AdmissionLimit:  getEnvInt("RECORDS_ADMISSION_LIMIT", 3),
			DiagnosisLimit:  getEnvInt("RECORDS_DIAGNOSIS_LIMIT", 8),
			ProcedureLimit:  getEnvInt("RECORDS_PROCEDURE_LIMIT", 5),
			LabLimit:        getEnvInt("RECORDS_LAB_LIMIT", 12),
			MedicationLimit: getEnvInt("RECORDS_MEDICATION_LIMIT", 10),
			MedAdminLimit:   getEnvInt("RECORDS_MEDADMIN_LIMIT", 8),
			OrderLimit:      getEnvInt("RECORDS_ORDER_LIMIT", 5),
			ICUStayLimit:    getEnvInt("RECORDS_ICU_STAY_LIMIT", 5),
			VitalLimit:      getEnvInt("RECORDS_VITAL_LIMIT", 15),
			ICUInputLimit:   getEnvInt("RECORDS_ICU_INPUT_LIMIT", 8),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
	}, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Bedrock.KnowledgeBaseID == "" {
		return fmt.Errorf("BEDROCK_KB_ID must be set")
	}
	if c.Bedrock.ModelARN == "" {
		return fmt.Errorf("BEDROCK_MODEL_ARN must be set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
