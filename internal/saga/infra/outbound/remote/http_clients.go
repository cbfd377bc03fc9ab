package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const IdempotencyHeader = "Idempotency-Key"

// client es el transporte JSON común a los tres servicios. Traduce los códigos HTTP
// a la taxonomía de errores de la saga.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, httpClient *http.Client) client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// post envía body y decodifica la respuesta en out (si no es nil).
// compensation=true convierte un 404 en ErrNothingToCompensate.
func (c client) post(ctx context.Context, path, idempotencyKey string, body, out interface{}, compensation bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", sharedDomain.ErrValidation, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", sharedDomain.ErrValidation, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", sharedDomain.ErrTransientDependency, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", sharedDomain.ErrTransientDependency, path, err)
		}
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := sharedUtils.Truncate(strings.TrimSpace(string(detail)), 200)
	return classifyStatus(resp.StatusCode, path, msg, compensation)
}

func classifyStatus(status int, path, msg string, compensation bool) error {
	switch {
	case status == http.StatusNotFound && compensation:
		return sagaDomain.ErrNothingToCompensate
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity, status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s returned %d: %s", sagaDomain.ErrDeclined, path, status, msg)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", sharedDomain.ErrTransientDependency, path, status, msg)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", sharedDomain.ErrValidation, path, status, msg)
	}
}

// ---------- Asientos ----------

type SeatClient struct{ c client }

func NewSeatClient(baseURL string, httpClient *http.Client) *SeatClient {
	return &SeatClient{c: newClient(baseURL, httpClient)}
}

func (s *SeatClient) HoldSeat(ctx context.Context, req sagaDomain.SeatHoldRequest) (sagaDomain.SeatHold, error) {
	var hold sagaDomain.SeatHold
	err := s.c.post(ctx, "/holds", req.IdempotencyKey, req, &hold, false)
	return hold, err
}

func (s *SeatClient) ReleaseSeat(ctx context.Context, req sagaDomain.SeatReleaseRequest) error {
	return s.c.post(ctx, "/holds/release", req.IdempotencyKey, req, nil, true)
}

// ---------- Reservas ----------

type BookingClient struct{ c client }

func NewBookingClient(baseURL string, httpClient *http.Client) *BookingClient {
	return &BookingClient{c: newClient(baseURL, httpClient)}
}

func (b *BookingClient) CreateBooking(ctx context.Context, req sagaDomain.CreateBookingRequest) (sagaDomain.BookingRecord, error) {
	var rec sagaDomain.BookingRecord
	err := b.c.post(ctx, "/bookings", req.IdempotencyKey, req, &rec, false)
	return rec, err
}

func (b *BookingClient) CancelBooking(ctx context.Context, req sagaDomain.CancelBookingRequest) error {
	return b.c.post(ctx, "/bookings/cancel", req.IdempotencyKey, req, nil, true)
}

// ---------- Pagos ----------

type PaymentClient struct{ c client }

func NewPaymentClient(baseURL string, httpClient *http.Client) *PaymentClient {
	return &PaymentClient{c: newClient(baseURL, httpClient)}
}

func (p *PaymentClient) Charge(ctx context.Context, req sagaDomain.ChargeRequest) (sagaDomain.Payment, error) {
	var payment sagaDomain.Payment
	err := p.c.post(ctx, "/charges", req.IdempotencyKey, req, &payment, false)
	return payment, err
}

func (p *PaymentClient) Refund(ctx context.Context, req sagaDomain.RefundRequest) (sagaDomain.Refund, error) {
	var refund sagaDomain.Refund
	err := p.c.post(ctx, "/refunds", req.IdempotencyKey, req, &refund, true)
	return refund, err
}

// NewCollaborators construye los tres clientes con un http.Client compartido.
func NewCollaborators(seatURL, bookingURL, paymentURL string, httpClient *http.Client) sagaDomain.Collaborators {
	return sagaDomain.Collaborators{
		Seats:    NewSeatClient(seatURL, httpClient),
		Bookings: NewBookingClient(bookingURL, httpClient),
		Payments: NewPaymentClient(paymentURL, httpClient),
	}
}
