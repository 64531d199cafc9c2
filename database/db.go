package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"buchung-backend/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Connect() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "db"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), port)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
}

// AutoMigrate applies the public-schema tables (accounts and tenant registry).
func AutoMigrate() {
	DB.AutoMigrate(&models.User{}, &models.Organization{})
}

// ListTenantSchemas returns the schema names of all registered organizations.
func ListTenantSchemas() ([]string, error) {
	var schemas []string
	err := DB.Model(&models.Organization{}).
		Order("schema_name").
		Pluck("schema_name", &schemas).Error
	return schemas, err
}

// SweepExpiredIdempotencyKeys deletes idempotency records past their expiry.
// The db handle must already be pinned to a tenant schema.
func SweepExpiredIdempotencyKeys(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Where("expires_at < ?", now).Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
