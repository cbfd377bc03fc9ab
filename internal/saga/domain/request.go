package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const DefaultCurrency = "EUR"

// BookingRequest es la petición que arranca una saga de reserva.
type BookingRequest struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	BookingID      string `json:"bookingId,omitempty"`
	UserID         int64  `json:"userId"`
	TrainID        int64  `json:"trainId"`
	Fare           int64  `json:"fare"`
	Currency       string `json:"currency,omitempty"`
	PassengerName  string `json:"passengerName,omitempty"`
	SeatPreference string `json:"seatPreference,omitempty"`
}

func (r BookingRequest) Validate() error {
	var problems []string
	if r.UserID <= 0 {
		problems = append(problems, "userId must be positive")
	}
	if r.TrainID <= 0 {
		problems = append(problems, "trainId must be positive")
	}
	if r.Fare <= 0 {
		problems = append(problems, "fare must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, ", "))
	}
	return nil
}

// Normalized rellena los valores por defecto para que dos peticiones equivalentes tengan la misma huella.
func (r BookingRequest) Normalized() BookingRequest {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	r.PassengerName = strings.TrimSpace(r.PassengerName)
	r.SeatPreference = strings.TrimSpace(r.SeatPreference)
	return r
}

// Fingerprint identifica la petición para que un segundo arranque devuelva la misma saga.
// Prioridad: idempotency key, correlation id, booking id y, si no hay ninguno, hash del contenido.
func Fingerprint(r BookingRequest) string {
	switch {
	case r.IdempotencyKey != "":
		return "key:" + r.IdempotencyKey
	case r.CorrelationID != "":
		return "correlation:" + r.CorrelationID
	case r.BookingID != "":
		return "booking:" + r.BookingID
	}

	n := r.Normalized()
	content, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(struct {
		UserID         int64  `json:"userId"`
		TrainID        int64  `json:"trainId"`
		Fare           int64  `json:"fare"`
		Currency       string `json:"currency"`
		PassengerName  string `json:"passengerName"`
		SeatPreference string `json:"seatPreference"`
	}{n.UserID, n.TrainID, n.Fare, n.Currency, n.PassengerName, n.SeatPreference})
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// CancellationFingerprint: una reserva confirmada solo se cancela una vez.
func CancellationFingerprint(originalSagaID string) string {
	return "cancel:" + originalSagaID
}
