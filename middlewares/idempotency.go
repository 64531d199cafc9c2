package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"buchung-backend/database"
	"buchung-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyOutcome classifies what BeginIdempotent found for a key tuple.
type IdempotencyOutcome int

const (
	// IdempotencyFresh: no record existed, an in-progress row was inserted
	// and the caller should execute the operation.
	IdempotencyFresh IdempotencyOutcome = iota
	// IdempotencyReplay: a completed record with a matching payload hash
	// exists; return its captured response verbatim.
	IdempotencyReplay
	// IdempotencyConflict: the key was reused with a different body, or a
	// concurrent duplicate is still in flight.
	IdempotencyConflict
)

// HashPayload digests the raw request body for key-reuse detection.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// BeginIdempotent resolves the (key, method, path) tuple inside tx, which must
// already be pinned to the tenant schema. Expired records are treated as
// absent. The insert uses ON CONFLICT DO NOTHING so the unique index decides
// the race between concurrent duplicates without aborting the transaction.
func BeginIdempotent(tx *gorm.DB, key, method, path, payloadHash string, ttl time.Duration, now time.Time) (IdempotencyOutcome, *models.IdempotencyKey, error) {
	var existing models.IdempotencyKey
	err := tx.Where("key = ? AND method = ? AND path = ?", key, method, path).First(&existing).Error
	if err == nil && existing.Expired(now) {
		if err := tx.Delete(&models.IdempotencyKey{}, existing.ID).Error; err != nil {
			return IdempotencyConflict, nil, err
		}
		err = gorm.ErrRecordNotFound
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec := models.IdempotencyKey{
			Key:         key,
			Method:      method,
			Path:        path,
			PayloadHash: payloadHash,
			Status:      models.IdempotencyInProgress,
			ExpiresAt:   now.Add(ttl),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return IdempotencyConflict, nil, res.Error
		}
		if res.RowsAffected == 1 {
			return IdempotencyFresh, &rec, nil
		}
		// Lost the insert race: a concurrent duplicate holds the tuple.
		if err := tx.Where("key = ? AND method = ? AND path = ?", key, method, path).First(&existing).Error; err != nil {
			return IdempotencyConflict, nil, err
		}
	} else if err != nil {
		return IdempotencyConflict, nil, err
	}

	if existing.PayloadHash != payloadHash || existing.Status == models.IdempotencyInProgress {
		return IdempotencyConflict, &existing, nil
	}
	return IdempotencyReplay, &existing, nil
}

// CompleteIdempotent captures the response so later retries replay it.
func CompleteIdempotent(tx *gorm.DB, id uint, responseStatus int, responseBody []byte) error {
	blob := make([]byte, len(responseBody))
	copy(blob, responseBody)
	return tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          models.IdempotencyCompleted,
			"response_status": responseStatus,
			"response_body":   blob,
		}).Error
}

// DiscardIdempotent removes an in-progress record after a non-deterministic
// failure, so the key does not stay poisoned and the client may retry.
func DiscardIdempotent(tx *gorm.DB, id uint) error {
	return tx.Delete(&models.IdempotencyKey{}, id).Error
}

func idempotencyTTL() time.Duration {
	if v := os.Getenv("IDEMPOTENCY_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	return 24 * time.Hour
}

// Idempotency gates mutating requests behind an Idempotency-Key header in a
// schema-safe way. It uses its own short transactions with SET LOCAL
// search_path so idempotency records are never tied to the handler TX and the
// pooled connections never leak a search_path.
func Idempotency() fiber.Handler {
	ttl := idempotencyTTL()

	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get("Idempotency-Key"))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key header required on mutating requests"})
		}
		if len(key) > 128 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key too long"})
		}

		schema, _ := c.Locals("schema").(string)
		if schema == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "auth context missing"})
		}

		path := c.OriginalURL() // includes query string
		payloadHash := HashPayload(c.Body())
		now := time.Now().UTC()

		// ---- Phase 1: resolve the key under a short TX with SET LOCAL search_path
		var outcome IdempotencyOutcome
		var rec *models.IdempotencyKey
		err := database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "idempotency schema pin failed")
			}
			var e error
			outcome, rec, e = BeginIdempotent(tx, key, method, path, payloadHash, ttl, now)
			if e != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "idempotency lookup failed")
			}
			return nil
		})
		if err != nil {
			return err
		}

		switch outcome {
		case IdempotencyConflict:
			return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reused with a different request or still in flight")
		case IdempotencyReplay:
			c.Status(rec.ResponseStatus)
			return c.Send(rec.ResponseBody)
		}

		// Fresh: the wrapped operation runs exactly once.
		handlerErr := c.Next()
		status := c.Response().StatusCode()

		if handlerErr != nil || status >= fiber.StatusInternalServerError {
			// Transient/infra failure: free the key instead of caching it.
			_ = database.DB.Transaction(func(tx *gorm.DB) error {
				if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
					return nil // best-effort
				}
				return DiscardIdempotent(tx, rec.ID)
			})
			return handlerErr
		}

		// ---- Phase 2: capture the response (business errors included) so
		// retries replay it byte for byte.
		resp := c.Response().Body()
		_ = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
				return nil // best-effort: don't break the delivered response
			}
			return CompleteIdempotent(tx, rec.ID, status, resp)
		})

		return nil
	}
}
