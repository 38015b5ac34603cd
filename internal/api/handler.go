package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
	"github.com/jozer-rami/resonancial-api/internal/metrics"
	"github.com/jozer-rami/resonancial-api/internal/promo"
	"github.com/jozer-rami/resonancial-api/internal/redis"
)

// SubscriberStore defines the subscriber persistence operations the handlers need
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, sub *db.Subscriber) error
	GetSubscriberByEmail(ctx context.Context, email string) (*db.Subscriber, error)
}

// DiscountEngine defines the discount code operations the handlers need
type DiscountEngine interface {
	Create(ctx context.Context, subscriberID uuid.UUID, channel string) (*db.DiscountCode, error)
	Validate(ctx context.Context, code string) (*db.DiscountCode, error)
	Redeem(ctx context.Context, code, orderID string) error
	CodeBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*db.DiscountCode, error)
}

// SubscribeRequest is the newsletter signup body
type SubscribeRequest struct {
	Email             string `json:"email"`
	ContactPreference string `json:"contactPreference"`
	Phone             string `json:"phone,omitempty"`
	PhoneCountryCode  string `json:"phoneCountryCode,omitempty"`
	ConsentWhatsapp   bool   `json:"consentWhatsapp"`
	ConsentEmail      bool   `json:"consentEmail"`
}

// DiscountCodeView is the discount code shape returned to the frontend
type DiscountCodeView struct {
	Code            string    `json:"code"`
	Type            string    `json:"type"`
	Value           string    `json:"value"`
	ExpiresAt       time.Time `json:"expiresAt"`
	DeliveryChannel string    `json:"deliveryChannel"`
	DeliveryStatus  string    `json:"deliveryStatus"`
}

// SubscribeResponse is returned from the subscribe endpoint
type SubscribeResponse struct {
	IsExisting   bool              `json:"isExisting,omitempty"`
	Subscriber   *db.Subscriber    `json:"subscriber"`
	DiscountCode *DiscountCodeView `json:"discountCode,omitempty"`
}

// ValidateRequest is the code validation body
type ValidateRequest struct {
	Code string `json:"code"`
}

// ValidateResponse is returned from the validate endpoint
type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Code      string     `json:"code,omitempty"`
	Type      string     `json:"type,omitempty"`
	Value     string     `json:"value,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RedeemRequest is the code redemption body
type RedeemRequest struct {
	Code    string `json:"code"`
	OrderID string `json:"orderId"`
}

// RedeemResponse is returned from the redeem endpoint
type RedeemResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	subscribers SubscriberStore
	engine      DiscountEngine
	guard       *redis.SignupGuard // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, subscribers SubscriberStore, engine DiscountEngine) *Handler {
	return &Handler{
		logger:      logger,
		subscribers: subscribers,
		engine:      engine,
	}
}

// NewHandlerWithGuard creates a handler with signup deduplication
func NewHandlerWithGuard(logger *zap.Logger, subscribers SubscriberStore, engine DiscountEngine, guard *redis.SignupGuard) *Handler {
	return &Handler{
		logger:      logger,
		subscribers: subscribers,
		engine:      engine,
		guard:       guard,
	}
}

// Subscribe handles POST /api/newsletter/subscribe
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorMessage(w, http.StatusBadRequest, "El cuerpo de la solicitud no es válido")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		h.writeErrorMessage(w, http.StatusBadRequest, "El correo electrónico es obligatorio")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		h.writeErrorMessage(w, http.StatusBadRequest, "El correo electrónico no es válido")
		return
	}

	preference := req.ContactPreference
	if preference == "" {
		preference = db.ChannelEmail
	}
	if preference != db.ChannelEmail && preference != db.ChannelWhatsapp {
		h.writeErrorMessage(w, http.StatusBadRequest, "La preferencia de contacto debe ser email o whatsapp")
		return
	}

	// WhatsApp delivery needs a reachable number and an explicit opt-in.
	if preference == db.ChannelWhatsapp {
		if req.Phone == "" || req.PhoneCountryCode == "" {
			h.writeErrorMessage(w, http.StatusBadRequest, "El número de teléfono y el código de país son obligatorios para WhatsApp")
			return
		}
		if !req.ConsentWhatsapp {
			h.writeErrorMessage(w, http.StatusBadRequest, "Se requiere tu consentimiento para contactarte por WhatsApp")
			return
		}
	}

	// Absorb double-submitted forms: only one in-flight signup per email.
	if h.guard != nil {
		if err := h.guard.Reserve(ctx, email); err != nil {
			if errors.Is(err, redis.ErrSignupInFlight) {
				h.writeErrorMessage(w, http.StatusConflict, "Tu suscripción ya está siendo procesada")
				return
			}
			h.logger.Warn("signup guard unavailable, proceeding", zap.Error(err))
		} else {
			defer h.guard.Release(ctx, email)
		}
	}

	existing, err := h.subscribers.GetSubscriberByEmail(ctx, email)
	if err != nil && !errors.Is(err, db.ErrSubscriberNotFound) {
		h.logger.Error("failed to look up subscriber", zap.Error(err))
		h.writeErrorMessage(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}
	if existing != nil {
		h.respondExisting(ctx, w, existing)
		return
	}

	sub := &db.Subscriber{
		ID:                uuid.New(),
		Email:             email,
		Phone:             optional(req.Phone),
		PhoneCountryCode:  optional(req.PhoneCountryCode),
		ContactPreference: preference,
		ConsentWhatsapp:   req.ConsentWhatsapp,
		ConsentEmail:      req.ConsentEmail,
	}

	if err := h.subscribers.CreateSubscriber(ctx, sub); err != nil {
		// Lost a concurrent-signup race: the other request created the row.
		if errors.Is(err, db.ErrDuplicateEmail) {
			winner, lookupErr := h.subscribers.GetSubscriberByEmail(ctx, email)
			if lookupErr != nil {
				h.logger.Error("failed to re-read subscriber after duplicate insert", zap.Error(lookupErr))
				h.writeErrorMessage(w, http.StatusInternalServerError, "Error interno del servidor")
				return
			}
			h.respondExisting(ctx, w, winner)
			return
		}
		h.logger.Error("failed to create subscriber", zap.Error(err))
		h.writeErrorMessage(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}

	code, err := h.engine.Create(ctx, sub.ID, preference)
	if err != nil {
		h.logger.Error("failed to issue discount code",
			zap.Error(err),
			zap.String("subscriber_id", sub.ID.String()),
		)
		h.writeErrorMessage(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}

	h.logger.Info("newsletter subscription created",
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("channel", preference),
	)
	metrics.RecordSubscription("created")
	metrics.RecordCodeIssued(preference)

	h.writeJSON(w, http.StatusCreated, SubscribeResponse{
		Subscriber:   sub,
		DiscountCode: codeView(code),
	})
}

// respondExisting returns the already-subscribed branch: 200 with the
// previously issued code and no new DiscountCode record.
func (h *Handler) respondExisting(ctx context.Context, w http.ResponseWriter, sub *db.Subscriber) {
	resp := SubscribeResponse{
		IsExisting: true,
		Subscriber: sub,
	}

	code, err := h.engine.CodeBySubscriber(ctx, sub.ID)
	if err != nil && !errors.Is(err, promo.ErrNotFound) {
		h.logger.Error("failed to look up existing code",
			zap.Error(err),
			zap.String("subscriber_id", sub.ID.String()),
		)
		h.writeErrorMessage(w, http.StatusInternalServerError, "Error interno del servidor")
		return
	}
	if code != nil {
		resp.DiscountCode = codeView(code)
	}

	metrics.RecordSubscription("existing")
	h.writeJSON(w, http.StatusOK, resp)
}

// ValidateCode handles POST /api/discount-codes/validate
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ValidateResponse{
			Valid: false,
			Error: "El cuerpo de la solicitud no es válido",
		})
		return
	}

	rec, err := h.engine.Validate(ctx, req.Code)
	if err != nil {
		if promo.IsValidationError(err) {
			metrics.RecordValidationFailure(validationReason(err))
			h.writeJSON(w, http.StatusBadRequest, ValidateResponse{
				Valid: false,
				Error: promo.UserMessage(err),
			})
			return
		}
		h.logger.Error("failed to validate discount code", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ValidateResponse{
			Valid: false,
			Error: "Error interno del servidor",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:     true,
		Code:      rec.Code,
		Type:      rec.Type,
		Value:     rec.Value,
		ExpiresAt: &rec.ExpiresAt,
	})
}

// RedeemCode handles POST /api/discount-codes/redeem
func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, RedeemResponse{
			Success: false,
			Error:   "El cuerpo de la solicitud no es válido",
		})
		return
	}

	if strings.TrimSpace(req.OrderID) == "" {
		h.writeJSON(w, http.StatusBadRequest, RedeemResponse{
			Success: false,
			Error:   "El identificador del pedido es obligatorio",
		})
		return
	}

	if err := h.engine.Redeem(ctx, req.Code, req.OrderID); err != nil {
		if promo.IsValidationError(err) {
			metrics.RecordValidationFailure(validationReason(err))
			h.writeJSON(w, http.StatusBadRequest, RedeemResponse{
				Success: false,
				Error:   promo.UserMessage(err),
			})
			return
		}
		h.logger.Error("failed to redeem discount code", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, RedeemResponse{
			Success: false,
			Error:   "Error interno del servidor",
		})
		return
	}

	metrics.RecordCodeRedeemed()
	h.writeJSON(w, http.StatusOK, RedeemResponse{Success: true})
}

func codeView(code *db.DiscountCode) *DiscountCodeView {
	return &DiscountCodeView{
		Code:            code.Code,
		Type:            code.Type,
		Value:           code.Value,
		ExpiresAt:       code.ExpiresAt,
		DeliveryChannel: code.DeliveryChannel,
		DeliveryStatus:  code.DeliveryStatus,
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, promo.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, promo.ErrNotFound):
		return "not_found"
	case errors.Is(err, promo.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, promo.ErrExpired):
		return "expired"
	default:
		return "unknown"
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
