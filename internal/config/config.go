package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	DBConnectionString string
	SyncInterval       time.Duration
	AcademicYear       int
}

func Load() (*Config, error) {
	port := getEnv("PORT", "8080")
	dbConnStr := getEnv("DB_CONNECTION_STRING", "")

	syncInterval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_MINUTES", "0"))
	if err != nil {
		return nil, err
	}

	year, err := strconv.Atoi(getEnv("ACADEMIC_YEAR", strconv.Itoa(currentAcademicYear())))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:               port,
		DBConnectionString: dbConnStr,
		SyncInterval:       time.Duration(syncInterval) * time.Minute,
		AcademicYear:       year,
	}, nil
}

// currentAcademicYear returns the starting year of the school year that
// contains today. The year rolls over on August 1st.
func currentAcademicYear() int {
	now := time.Now()
	if now.Month() >= time.August {
		return now.Year()
	}
	return now.Year() - 1
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
