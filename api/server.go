/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  Structured request logging (slog)
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests for the tenant and operator UIs

ROUTE GROUPS:
  /api/contracts/*   Contract lifecycle and its reward
  /api/bookings/*    Bookings and installment payments
  /api/transfers/*   Unit transfer requests
  /api/payments/*    Gateway callbacks
  /api/admin/*       Operator operations
  /api/units/*       In-memory catalog

SECURITY NOTE:
  No authentication middleware. The actor headers are trusted as set by
  the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, logger *slog.Logger, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.CreateContract)
			r.Get("/", h.ListContracts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetContract)
				r.Delete("/", h.DeleteContract)
				r.Post("/sign", h.SignContract)
				r.Post("/cancellation", h.RequestCancellation)
				r.Post("/cancellation/approve", h.ApproveCancellation)
				r.Post("/cancellation/reject", h.RejectCancellation)
				r.Put("/status", h.UpdateContractStatus)

				r.Get("/reward", h.GetReward)
				r.Post("/reward/claim", h.ClaimReward)
				r.Post("/reward/payments", h.RecordRewardPayment)
				r.Post("/reward/missed", h.RecordMissedPayment)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Post("/approve", h.ApproveBooking)
				r.Post("/reject", h.RejectBooking)
				r.Post("/installments/{seq}/pay", h.PayInstallment)
				r.Put("/installments/{seq}", h.UpdateInstallment)
			})
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.RequestTransfer)
			r.Get("/eligibility", h.TransferEligibility)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTransfer)
				r.Post("/approve", h.ApproveTransfer)
				r.Post("/reject", h.RejectTransfer)
				r.Post("/request-info", h.RequestTransferInfo)
				r.Post("/provide-info", h.ProvideTransferInfo)
				r.Post("/complete", h.CompleteTransfer)
			})
		})

		r.Post("/payments/captured", h.PaymentCaptured)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.RegisterUnit)
		})
	})

	return r
}

// RequestLogger logs one structured line per request. Server errors are
// logged at error level.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				requestAttrs := slog.Group("request",
					slog.String("id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("actor", r.Header.Get(HeaderActorID)),
				)
				responseAttrs := slog.Group("response",
					slog.Int("status", status),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("latency", time.Since(start)),
				)

				if status >= http.StatusInternalServerError {
					logger.ErrorContext(r.Context(), "server error", requestAttrs, responseAttrs)
				} else {
					logger.InfoContext(r.Context(), "request completed", requestAttrs, responseAttrs)
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
