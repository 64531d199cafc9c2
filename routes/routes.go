package routes

import (
	"github.com/gofiber/fiber/v2"

	"buchung-backend/controllers"
	"buchung-backend/middlewares"
)

// Register wires all HTTP routes.
func Register(app *fiber.App) {
	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", controllers.Register)
	api.Post("/login", controllers.Login)
	api.Post("/logout", controllers.Logout)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Idempotency guard FIRST (not tied to request TX)
	protected.Use(middlewares.Idempotency())

	// Then per-request tenant transaction (pins search_path and commits/rolls back)
	protected.Use(middlewares.TenantTx())

	// Resources
	protected.Post("/resources", controllers.CreateResource)
	protected.Get("/resources", controllers.GetResources)
	protected.Get("/resources/:id", controllers.GetResource)
	protected.Put("/resources/:id", controllers.UpdateResource)

	// Booking policies (one per resource)
	protected.Put("/resources/:id/policy", controllers.PutPolicy)
	protected.Get("/resources/:id/policy", controllers.GetPolicy)

	// Bookings
	protected.Post("/bookings", controllers.CreateBooking)
	protected.Get("/bookings", controllers.GetBookings)
	protected.Get("/bookings/:id", controllers.GetBooking)
	protected.Put("/bookings/:id/confirm", controllers.ConfirmBooking)
	protected.Put("/bookings/:id/cancel", controllers.CancelBooking)

	// Webhook subscriptions
	protected.Post("/subscriptions", controllers.CreateSubscription)
	protected.Get("/subscriptions", controllers.GetSubscriptions)
	protected.Put("/subscriptions/:id", controllers.UpdateSubscription)
	protected.Post("/subscriptions/:id/rotate-secret", controllers.RotateSecret)

	// Operator surface: deliveries + outbox events
	protected.Get("/deliveries", controllers.GetDeliveries)
	protected.Post("/deliveries/:id/retry", controllers.RetryDelivery)
	protected.Get("/events", controllers.GetEvents)
}
